// Package lead defines the core domain types for the lead scraping engine:
// scrape jobs, discovered leads, extracted contacts, and their status machines.
// By keeping these types free of persistence and transport concerns, every
// other package can depend on them without dragging in a database driver.
package lead

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state shared by scrape jobs and queued leads.
type Status string

// Lifecycle states. COMPLETED and FAILED are terminal.
const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// MaxRetries bounds how often a lead may be released back to PENDING after a
// failed processing attempt. Combined with the claim-time retries increment
// this caps total attempts per lead at MaxRetries+1.
const MaxRetries = 3

// ErrMissingOwner is returned by constructors when no tenant is supplied.
// Ownership is mandatory: there is deliberately no fallback owner value.
var ErrMissingOwner = errors.New("owner id is required")

// ScrapeJob is one tenant-submitted map-search request. It is created PENDING,
// driven to a terminal state by exactly one orchestrator, and never claimed by
// the lead queue (the poller's single-flight loop is its concurrency guard).
type ScrapeJob struct {
	ID           uuid.UUID
	OwnerID      string
	Query        string
	MaxResults   int
	Status       Status
	ResultsFound int
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// NewScrapeJob validates inputs and builds a PENDING job.
func NewScrapeJob(ownerID, query string, maxResults int) (ScrapeJob, error) {
	if strings.TrimSpace(ownerID) == "" {
		return ScrapeJob{}, ErrMissingOwner
	}
	if strings.TrimSpace(query) == "" {
		return ScrapeJob{}, errors.New("query is required")
	}
	if maxResults <= 0 {
		return ScrapeJob{}, fmt.Errorf("max results must be > 0, got %d", maxResults)
	}
	return ScrapeJob{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		Query:      query,
		MaxResults: maxResults,
		Status:     StatusPending,
	}, nil
}

// SourceGoogleMaps tags leads discovered through the map-search scraper.
const SourceGoogleMaps = "google_maps"

// Lead is a discovered business awaiting (or having undergone) contact
// enrichment. WorkerID and LockedAt are set only while a worker holds the
// claim; Retries counts claim attempts.
type Lead struct {
	ID             uuid.UUID
	OwnerID        string
	JobID          uuid.UUID
	Name           string
	Phone          string
	Website        string
	Address        string
	Emails         []string
	Source         string
	Status         Status
	WorkerID       *string
	LockedAt       *time.Time
	Retries        int
	CreatedAt      time.Time
	EmailScrapedAt *time.Time
}

// NewLead validates inputs and builds a PENDING lead owned by ownerID.
func NewLead(ownerID string, jobID uuid.UUID, name string) (Lead, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Lead{}, ErrMissingOwner
	}
	if strings.TrimSpace(name) == "" {
		return Lead{}, errors.New("lead name is required")
	}
	return Lead{
		ID:      uuid.New(),
		OwnerID: ownerID,
		JobID:   jobID,
		Name:    name,
		Source:  SourceGoogleMaps,
		Status:  StatusPending,
	}, nil
}

// ExtractionSource identifies which pipeline stage produced an email finding.
type ExtractionSource string

// Stages in descending trust order.
const (
	SourceMailto          ExtractionSource = "mailto"
	SourceRegexText       ExtractionSource = "regex-text"
	SourceRegexObfuscated ExtractionSource = "regex-obfuscated"
	SourceModel           ExtractionSource = "model"
)

// Priority ranks sources for tie-breaking between equal-confidence findings.
// Lower is better.
func (s ExtractionSource) Priority() int {
	switch s {
	case SourceMailto:
		return 0
	case SourceRegexText:
		return 1
	case SourceRegexObfuscated:
		return 2
	case SourceModel:
		return 3
	default:
		return 4
	}
}

// EmailType is a coarse classification of an extracted address.
type EmailType string

// Email type values.
const (
	EmailTypePersonal EmailType = "personal"
	EmailTypeGeneric  EmailType = "generic"
	EmailTypeUnknown  EmailType = "unknown"
)

// VerificationStatus is the outcome of MX verification for a contact email.
type VerificationStatus string

// Verification outcomes. UNKNOWN means the check could not be completed and
// must never be treated as a negative signal.
const (
	VerifyValid   VerificationStatus = "VALID"
	VerifyInvalid VerificationStatus = "INVALID"
	VerifyUnknown VerificationStatus = "UNKNOWN"
)

// ExtractionResult is one email finding from the extraction pipeline.
type ExtractionResult struct {
	Email      string
	Confidence int // 0-100
	Source     ExtractionSource
	Type       EmailType
}

// Contact is a persisted, per-lead extracted email record. Immutable once
// written except for verification backfill.
type Contact struct {
	LeadID             uuid.UUID
	OwnerID            string
	Email              string
	ConfidenceScore    int
	Source             ExtractionSource
	EmailType          EmailType
	VerificationStatus VerificationStatus
	MXProvider         string
	CreatedAt          time.Time
}
