// Package auth holds the credentials the streaming subsystem authenticates
// with.
//
// Token issuance and approval-key exchange happen in the REST layer, which
// is outside this module. The values arrive here once and are never
// mutated; when the REST layer re-issues them the caller builds new
// Credentials and a new connection manager.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rickgao/kis-stream/internal/model"
)

// Errors returned by NewCredentials.
var (
	ErrMissingAppKey      = errors.New("app key is required")
	ErrMissingAppSecret   = errors.New("app secret is required")
	ErrMissingApprovalKey = errors.New("approval key is required")
)

// Credentials is an immutable set of streaming credentials. The zero value
// is not valid; use NewCredentials.
type Credentials struct {
	appKey       string
	appSecret    string
	approvalKey  string
	customerType model.CustomerType
	htsID        string
}

// Params are the raw values supplied by the REST collaborator.
type Params struct {
	AppKey       string
	AppSecret    string
	ApprovalKey  string
	CustomerType model.CustomerType // defaults to personal
	HTSID        string             // subscription key for personal fills
}

// NewCredentials validates p and returns the credentials.
func NewCredentials(p Params) (Credentials, error) {
	p.AppKey = strings.TrimSpace(p.AppKey)
	p.AppSecret = strings.TrimSpace(p.AppSecret)
	p.ApprovalKey = strings.TrimSpace(p.ApprovalKey)

	switch {
	case p.AppKey == "":
		return Credentials{}, ErrMissingAppKey
	case p.AppSecret == "":
		return Credentials{}, ErrMissingAppSecret
	case p.ApprovalKey == "":
		return Credentials{}, ErrMissingApprovalKey
	}

	switch p.CustomerType {
	case "":
		p.CustomerType = model.CustomerPersonal
	case model.CustomerPersonal, model.CustomerBusiness:
	default:
		return Credentials{}, fmt.Errorf("invalid customer type %q", p.CustomerType)
	}

	return Credentials{
		appKey:       p.AppKey,
		appSecret:    p.AppSecret,
		approvalKey:  p.ApprovalKey,
		customerType: p.CustomerType,
		htsID:        strings.TrimSpace(p.HTSID),
	}, nil
}

func (c Credentials) AppKey() string                   { return c.appKey }
func (c Credentials) AppSecret() string                { return c.appSecret }
func (c Credentials) ApprovalKey() string              { return c.approvalKey }
func (c Credentials) CustomerType() model.CustomerType { return c.customerType }
func (c Credentials) HTSID() string                    { return c.htsID }

// Valid reports whether c was built by NewCredentials.
func (c Credentials) Valid() bool {
	return c.appKey != "" && c.appSecret != "" && c.approvalKey != ""
}

// String redacts secrets so credentials can be logged safely.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{app_key=%s, customer=%s, hts_id=%s}", redact(c.appKey), c.customerType, c.htsID)
}

func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
