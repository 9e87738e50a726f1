// Package wdqs shapes and executes SPARQL queries against the Wikidata Query
// Service. Shaping is pure: BuildPreview describes the HTTP call without
// sending it, Client.Query sends it through the retrying request engine.
package wdqs

import (
	"cmp"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/heartmarshall/wdfetch/internal/adapter/httpclient"
	"github.com/heartmarshall/wdfetch/internal/domain"
)

const (
	formContentType   = "application/x-www-form-urlencoded"
	sparqlContentType = "application/sparql-query"
	queryParam        = "query"
)

// ServiceKind names a query endpoint family.
type ServiceKind int

const (
	ServiceWDQS ServiceKind = iota
)

func (k ServiceKind) String() string {
	switch k {
	case ServiceWDQS:
		return "wdqs"
	default:
		return fmt.Sprintf("service(%d)", int(k))
	}
}

// ServiceProfile is static per-endpoint configuration.
type ServiceProfile struct {
	BaseURL       string
	DefaultAccept string
	RateHints     []string
}

// Profile returns the static profile for kind.
func Profile(kind ServiceKind) (ServiceProfile, error) {
	switch kind {
	case ServiceWDQS:
		return ServiceProfile{
			BaseURL:       "https://query.wikidata.org/sparql",
			DefaultAccept: "application/sparql-results+json",
			RateHints:     []string{"polite", "limit"},
		}, nil
	default:
		return ServiceProfile{}, domain.NewValidationError("service", fmt.Sprintf("unknown service kind %s", kind))
	}
}

// MethodHint is the caller's policy for picking GET or POST.
type MethodHint int

const (
	MethodAuto MethodHint = iota
	MethodForceGET
	MethodForcePOST
)

// Request is a structured SPARQL query. Zero fields mean "use the default".
type Request struct {
	Query           string
	Method          MethodHint
	LengthThreshold int           // 0 = service default
	Timeout         time.Duration // 0 = service default
	Accept          string
	ContentType     string
}

// Options are per-client defaults for shaping.
type Options struct {
	LengthThreshold int
	Timeout         time.Duration
	AcceptOverride  string
	// BaseURL replaces the profile URL; used to point at a mirror or a test server.
	BaseURL string
}

// DefaultOptions returns the WDQS defaults: GET up to 1800 bytes, 60s timeout.
func DefaultOptions() Options {
	return Options{LengthThreshold: 1800, Timeout: 60 * time.Second}
}

func (o *Options) defaults() {
	d := DefaultOptions()
	if o.LengthThreshold <= 0 {
		o.LengthThreshold = d.LengthThreshold
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
}

// CallPreview is a fully resolved, unexecuted HTTP call.
type CallPreview struct {
	Method      string
	URL         string
	QueryParams httpclient.Params
	FormParams  httpclient.Params
	Body        string
	ContentType string
	Accept      string
	Timeout     time.Duration
	UseFormBody bool
}

// HasParam reports whether the URL query carries key.
func (p CallPreview) HasParam(key string) bool { return p.QueryParams.Has(key) }

// Param returns the first URL query value for key, or "".
func (p CallPreview) Param(key string) string { return p.QueryParams.Get(key) }

// Call converts the preview into a request-engine call.
func (p CallPreview) Call() httpclient.Call {
	c := httpclient.Call{
		Method:  p.Method,
		URL:     p.URL,
		Query:   p.QueryParams,
		Accept:  p.Accept,
		Timeout: p.Timeout,
	}
	if p.Method == http.MethodPost {
		c.ContentType = p.ContentType
		if p.UseFormBody {
			c.Form = p.FormParams
		} else {
			c.Body = []byte(p.Body)
		}
	}
	return c
}

// ChooseMethod picks GET for queries no longer than threshold bytes, POST
// otherwise. Forced hints skip the length check.
func ChooseMethod(req Request, threshold int) string {
	switch req.Method {
	case MethodForceGET:
		return http.MethodGet
	case MethodForcePOST:
		return http.MethodPost
	default:
		if len(req.Query) <= threshold {
			return http.MethodGet
		}
		return http.MethodPost
	}
}

// ResolveAccept: request value, then caller override, then profile default.
func ResolveAccept(req Request, profile ServiceProfile, override string) string {
	if req.Accept != "" {
		return req.Accept
	}
	if override != "" {
		return override
	}
	return profile.DefaultAccept
}

// ResolveBodyStrategy returns the POST content type and whether the query
// travels as a form field (true) or as the raw body (false).
func ResolveBodyStrategy(req Request) (contentType string, useForm bool) {
	if req.ContentType != "" {
		return req.ContentType, req.ContentType == formContentType
	}
	if req.Method != MethodAuto {
		return formContentType, true
	}
	return sparqlContentType, false
}

// SortParams orders params by key, then by value.
func SortParams(params httpclient.Params) {
	slices.SortStableFunc(params, func(a, b httpclient.Param) int {
		return cmp.Or(strings.Compare(a.Key, b.Key), strings.Compare(a.Value, b.Value))
	})
}

// AppendCommonParams adds the service's implicit parameters (format=json on
// WDQS GETs, unless already present) and sorts the result.
func AppendCommonParams(kind ServiceKind, method string, params httpclient.Params) httpclient.Params {
	switch kind {
	case ServiceWDQS:
		if method == http.MethodGet && !params.Has("format") {
			params = append(params, httpclient.Param{Key: "format", Value: "json"})
		}
	}
	SortParams(params)
	return params
}

// BuildPreview resolves req against the profile for kind. It has no side effects.
func BuildPreview(kind ServiceKind, req Request, opts Options) (CallPreview, error) {
	profile, err := Profile(kind)
	if err != nil {
		return CallPreview{}, fmt.Errorf("wdqs.BuildPreview: %w", err)
	}
	if strings.TrimSpace(req.Query) == "" {
		return CallPreview{}, fmt.Errorf("wdqs.BuildPreview: %w", domain.NewValidationError("query", "query is empty"))
	}
	opts.defaults()

	threshold := opts.LengthThreshold
	if req.LengthThreshold > 0 {
		threshold = req.LengthThreshold
	}
	timeout := opts.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	baseURL := profile.BaseURL
	if opts.BaseURL != "" {
		baseURL = opts.BaseURL
	}

	p := CallPreview{
		Method:  ChooseMethod(req, threshold),
		URL:     baseURL,
		Accept:  ResolveAccept(req, profile, opts.AcceptOverride),
		Timeout: timeout,
	}

	var params httpclient.Params
	if p.Method == http.MethodGet {
		params = append(params, httpclient.Param{Key: queryParam, Value: req.Query})
	} else {
		p.ContentType, p.UseFormBody = ResolveBodyStrategy(req)
		if p.UseFormBody {
			p.FormParams = httpclient.Params{{Key: queryParam, Value: req.Query}}
		} else {
			p.Body = req.Query
		}
	}
	p.QueryParams = AppendCommonParams(kind, p.Method, params)
	return p, nil
}
