// Package extract implements the staged email extraction pipeline: a raw
// mailto scan, strict sanitization to inert text, direct and obfuscated
// pattern matching, and an optional model-assisted fallback.
package extract

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/mcnijman/go-emailaddress"
	"go.uber.org/zap"

	"github.com/swarmleads/leadengine/internal/lead"
)

// Stage confidences. Later stages are progressively less trustworthy.
const (
	confidenceMailto     = 100
	confidenceRegexText  = 80
	confidenceObfuscated = 60
	confidenceModel      = 50
)

// modelInputLimit bounds how much sanitized text is handed to the model
// fallback.
const modelInputLimit = 15000

var (
	mailtoPattern     = regexp.MustCompile(`(?i)href\s*=\s*["']mailto:([^"'?]+)`)
	emailPattern      = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	obfuscatedPattern = regexp.MustCompile(
		`(?i)([a-zA-Z0-9._\-]+)\s*\[\s*at\s*\]\s*([a-zA-Z0-9.\-]+)\s*\[\s*dot\s*\]\s*([a-zA-Z]{2,})`)

	// Domains that only ever appear in documentation snippets and templates.
	placeholderDomains = []string{"example.com", "domain.com", "email.com"}

	genericLocalParts = map[string]bool{
		"info": true, "contact": true, "hello": true, "support": true,
		"sales": true, "admin": true, "office": true, "mail": true,
	}
)

// ModelExtractor is the optional structured-extraction fallback. It receives
// sanitized, bounded plain text and must never see raw markup.
type ModelExtractor interface {
	ExtractEmails(ctx context.Context, text string) ([]lead.ExtractionResult, error)
}

// Pipeline runs the extraction stages over page content.
type Pipeline struct {
	model  ModelExtractor
	logger *zap.Logger
}

// NewPipeline builds a Pipeline. model may be nil to disable the fallback.
func NewPipeline(model ModelExtractor, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{model: model, logger: logger}
}

// Extract runs all stages over the raw page content and returns the
// deduplicated findings. The model fallback runs only when the earlier stages
// found nothing, allowModel is set, and a model extractor is configured.
func (p *Pipeline) Extract(
	ctx context.Context,
	pageContent string,
	allowModel bool,
) ([]lead.ExtractionResult, error) {
	var findings []lead.ExtractionResult

	// The mailto scan runs against raw markup; sanitization strips href
	// attributes.
	findings = append(findings, p.scanMailto(pageContent)...)

	// Everything past this point sees only inert visible text. Raw markup
	// never reaches the model stage.
	text := Sanitize(pageContent)

	findings = append(findings, p.scanText(text)...)
	findings = append(findings, p.scanObfuscated(text)...)

	deduped := dedupe(findings)
	if len(deduped) > 0 {
		return deduped, nil
	}

	if !allowModel || p.model == nil {
		return nil, nil
	}

	bounded := text
	if len(bounded) > modelInputLimit {
		cut := modelInputLimit
		// Never split a multi-byte rune at the cut point.
		for cut > 0 && !utf8.RuneStart(bounded[cut]) {
			cut--
		}
		bounded = bounded[:cut]
	}
	modelFindings, err := p.model.ExtractEmails(ctx, bounded)
	if err != nil {
		// The fallback is best effort; its failure never fails extraction.
		p.logger.Warn("model extraction failed", zap.Error(err))
		return nil, nil
	}
	for i := range modelFindings {
		modelFindings[i].Source = lead.SourceModel
		modelFindings[i].Email = strings.ToLower(modelFindings[i].Email)
	}
	return dedupe(modelFindings), nil
}

// Primary selects the single best finding: highest confidence, ties broken by
// source priority. Returns false when results is empty.
func Primary(results []lead.ExtractionResult) (lead.ExtractionResult, bool) {
	if len(results) == 0 {
		return lead.ExtractionResult{}, false
	}
	best := results[0]
	for _, r := range results[1:] {
		if r.Confidence > best.Confidence ||
			(r.Confidence == best.Confidence && r.Source.Priority() < best.Source.Priority()) {
			best = r
		}
	}
	return best, true
}

// Emails returns the plain address list of the findings.
func Emails(results []lead.ExtractionResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Email)
	}
	return out
}

// Sanitize strips all markup from the content and returns only visible text.
// Script, style, and other non-rendered subtrees are removed entirely so
// their contents cannot masquerade as page text.
func Sanitize(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		// Not parseable as HTML; treat the input as already-plain text.
		return content
	}
	doc.Find("script, style, noscript, iframe, template, object").Remove()
	return strings.TrimSpace(doc.Text())
}

func (p *Pipeline) scanMailto(raw string) []lead.ExtractionResult {
	var out []lead.ExtractionResult
	for _, m := range mailtoPattern.FindAllStringSubmatch(raw, -1) {
		addr, ok := normalize(m[1])
		if !ok {
			continue
		}
		out = append(out, lead.ExtractionResult{
			Email:      addr,
			Confidence: confidenceMailto,
			Source:     lead.SourceMailto,
			Type:       classify(addr),
		})
	}
	return out
}

func (p *Pipeline) scanText(text string) []lead.ExtractionResult {
	var out []lead.ExtractionResult
	for _, m := range emailPattern.FindAllString(text, -1) {
		addr, ok := normalize(m)
		if !ok {
			continue
		}
		out = append(out, lead.ExtractionResult{
			Email:      addr,
			Confidence: confidenceRegexText,
			Source:     lead.SourceRegexText,
			Type:       classify(addr),
		})
	}
	return out
}

func (p *Pipeline) scanObfuscated(text string) []lead.ExtractionResult {
	var out []lead.ExtractionResult
	for _, m := range obfuscatedPattern.FindAllStringSubmatch(text, -1) {
		candidate := m[1] + "@" + m[2] + "." + m[3]
		addr, ok := normalize(candidate)
		if !ok {
			continue
		}
		out = append(out, lead.ExtractionResult{
			Email:      addr,
			Confidence: confidenceObfuscated,
			Source:     lead.SourceRegexObfuscated,
			Type:       classify(addr),
		})
	}
	return out
}

// normalize lowercases and validates a candidate address, rejecting
// placeholder domains. Returns false for anything not worth keeping.
func normalize(candidate string) (string, bool) {
	addr, err := emailaddress.Parse(strings.TrimSpace(candidate))
	if err != nil {
		return "", false
	}
	email := strings.ToLower(addr.String())
	domain := strings.ToLower(addr.Domain)
	for _, placeholder := range placeholderDomains {
		if domain == placeholder || strings.HasSuffix(domain, "."+placeholder) {
			return "", false
		}
	}
	return email, true
}

func classify(email string) lead.EmailType {
	local := email[:strings.Index(email, "@")]
	if genericLocalParts[local] {
		return lead.EmailTypeGeneric
	}
	if strings.Contains(local, ".") {
		return lead.EmailTypePersonal
	}
	return lead.EmailTypeUnknown
}

// dedupe collapses findings case-insensitively by address, keeping the
// highest confidence and, within equal confidence, the higher-priority
// source. Output order is deterministic: confidence desc, then source
// priority, then address.
func dedupe(findings []lead.ExtractionResult) []lead.ExtractionResult {
	best := make(map[string]lead.ExtractionResult, len(findings))
	for _, f := range findings {
		key := strings.ToLower(f.Email)
		current, seen := best[key]
		if !seen ||
			f.Confidence > current.Confidence ||
			(f.Confidence == current.Confidence && f.Source.Priority() < current.Source.Priority()) {
			best[key] = f
		}
	}
	out := make([]lead.ExtractionResult, 0, len(best))
	for _, f := range best {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if out[i].Source.Priority() != out[j].Source.Priority() {
			return out[i].Source.Priority() < out[j].Source.Priority()
		}
		return out[i].Email < out[j].Email
	})
	return out
}
