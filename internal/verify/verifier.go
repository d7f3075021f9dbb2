// Package verify checks email domains for deliverability using DNS MX
// records and classifies the hosting mail provider.
package verify

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/swarmleads/leadengine/internal/lead"
)

var domainPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?)+$`)

// Result carries the verdict for a single domain.
type Result struct {
	Status   lead.VerificationStatus
	Provider string
}

// MXResolver is the DNS seam. *net.Resolver satisfies it.
type MXResolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// Verifier resolves MX records for email domains.
type Verifier struct {
	resolver MXResolver
	logger   *zap.Logger
}

// NewVerifier builds a Verifier that queries the given public resolvers
// directly, bypassing the host resolver configuration. Resolver addresses
// must carry a port, e.g. "8.8.8.8:53".
func NewVerifier(resolvers []string, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: 5 * time.Second}
			addr := resolvers[rand.Intn(len(resolvers))]
			return d.DialContext(ctx, network, addr)
		},
	}
	return &Verifier{resolver: r, logger: logger}
}

// NewVerifierWithResolver builds a Verifier over a caller-supplied resolver.
func NewVerifierWithResolver(resolver MXResolver, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{resolver: resolver, logger: logger}
}

// VerifyDomain checks whether the domain can receive mail. Malformed domains
// are INVALID without touching the network. A definitive NXDOMAIN or empty
// MX set is INVALID; transient resolution errors are UNKNOWN.
func (v *Verifier) VerifyDomain(ctx context.Context, domain string) Result {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if !domainPattern.MatchString(domain) {
		return Result{Status: lead.VerifyInvalid}
	}

	records, err := v.resolver.LookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return Result{Status: lead.VerifyInvalid}
		}
		v.logger.Debug("mx lookup failed", zap.String("domain", domain), zap.Error(err))
		return Result{Status: lead.VerifyUnknown}
	}
	if len(records) == 0 {
		return Result{Status: lead.VerifyInvalid}
	}

	return Result{Status: lead.VerifyValid, Provider: ClassifyProvider(records)}
}

// VerifyEmail verifies the domain part of an address.
func (v *Verifier) VerifyEmail(ctx context.Context, email string) Result {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return Result{Status: lead.VerifyInvalid}
	}
	return v.VerifyDomain(ctx, email[at+1:])
}

// ClassifyProvider names the mail provider from the MX host names. The first
// recognized host wins; anything else is "Other".
func ClassifyProvider(records []*net.MX) string {
	for _, mx := range records {
		host := strings.ToLower(strings.TrimSuffix(mx.Host, "."))
		switch {
		case strings.HasSuffix(host, "google.com") || strings.HasSuffix(host, "googlemail.com"):
			return "Google"
		case strings.HasSuffix(host, "outlook.com") || strings.HasSuffix(host, "protection.outlook.com"):
			return "Outlook"
		case strings.HasSuffix(host, "zoho.com") || strings.HasSuffix(host, "zoho.eu"):
			return "Zoho"
		case strings.HasSuffix(host, "protonmail.ch") || strings.HasSuffix(host, "proton.me"):
			return "ProtonMail"
		case strings.HasSuffix(host, "amazonaws.com"):
			return "AWS SES"
		}
	}
	return "Other"
}
