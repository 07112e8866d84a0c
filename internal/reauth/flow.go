package reauth

import (
	"fmt"
	"log/slog"

	"github.com/freekieb7/formlink/internal/config"
	apperrors "github.com/freekieb7/formlink/internal/errors"
	"golang.org/x/oauth2"
)

// Flow builds provider redirects and resolves where a returning user lands.
// It never touches stored grants.
type Flow struct {
	OAuth       *oauth2.Config
	Catalog     config.Catalog
	Codec       *StateCodec
	LandingPath string
	Logger      *slog.Logger
}

func NewFlow(oauthConfig *oauth2.Config, catalog config.Catalog, codec *StateCodec, landingPath string, logger *slog.Logger) *Flow {
	if landingPath == "" {
		landingPath = "/"
	}
	return &Flow{
		OAuth:       oauthConfig,
		Catalog:     catalog,
		Codec:       codec,
		LandingPath: landingPath,
		Logger:      logger,
	}
}

// BuildRedirect returns the provider URL that renews consent for capability
// and comes back to returnPath.
func (f *Flow) BuildRedirect(returnPath, capability string) (string, error) {
	return f.build(Intent{
		ReturnPath:          returnPath,
		RequestedCapability: capability,
		IsReauthorization:   true,
	})
}

// BuildConsentRedirect is BuildRedirect for a user granting capability the first time.
func (f *Flow) BuildConsentRedirect(returnPath, capability string) (string, error) {
	return f.build(Intent{
		ReturnPath:          returnPath,
		RequestedCapability: capability,
	})
}

func (f *Flow) build(intent Intent) (string, error) {
	if intent.RequestedCapability == "" {
		return "", apperrors.ValidationError("capability is required", nil)
	}

	scopes, ok := f.Catalog.Scopes(intent.RequestedCapability)
	if !ok {
		return "", apperrors.ValidationError(fmt.Sprintf("unknown capability %q", intent.RequestedCapability), nil)
	}

	state, err := f.Codec.Encode(intent)
	if err != nil {
		return "", apperrors.InternalError("failed to encode reauthorization state", err)
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	}
	if intent.IsReauthorization {
		// Forces a new refresh token from providers that only issue one on consent.
		opts = append(opts, oauth2.ApprovalForce)
	}

	cfg := *f.OAuth
	cfg.Scopes = scopes
	return cfg.AuthCodeURL(state, opts...), nil
}

// Resume decodes the state a provider handed back.
func (f *Flow) Resume(state string) (Intent, error) {
	intent, err := f.Codec.Decode(state)
	if err != nil {
		return Intent{}, apperrors.DecodeError("reauthorization state could not be decoded", err)
	}
	return intent, nil
}

// ResumePath is where the user continues after the round-trip. Anything
// undecodable or off-site lands on LandingPath.
func (f *Flow) ResumePath(state string) string {
	intent, err := f.Codec.Decode(state)
	if err != nil {
		if f.Logger != nil {
			f.Logger.Warn("Discarding reauthorization state", slog.String("error", err.Error()))
		}
		return f.LandingPath
	}
	return f.Destination(intent)
}

// Destination is the intent's return path when it is safe, else LandingPath.
func (f *Flow) Destination(intent Intent) string {
	if !SafeReturnPath(intent.ReturnPath) {
		if f.Logger != nil {
			f.Logger.Warn("Rejecting unsafe return path", slog.String("return_path", intent.ReturnPath))
		}
		return f.LandingPath
	}
	return intent.ReturnPath
}
