// Package agentctx holds the agent identity and endpoint configuration that
// handlers need to talk back to the upstream agent service.
package agentctx

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	errspkg "github.com/drblury/hookflow/internal/runtime/errors"
	"github.com/drblury/hookflow/internal/runtime/jsoncodec"
)

// DefaultFile is the file name the agent SDKs persist their context to.
const DefaultFile = "verity-context.json"

// Context is the explicit per-agent configuration handed to every handler.
// Field names follow the JSON the SDKs write.
type Context struct {
	VerityURL          string `json:"verityUrl"`
	VerityPublicDID    string `json:"verityPublicDID,omitempty"`
	VerityPublicVerKey string `json:"verityPublicVerKey,omitempty"`
	DomainDID          string `json:"domainDID"`
	VerityAgentVerKey  string `json:"verityAgentVerKey,omitempty"`
	SDKVerKeyID        string `json:"sdkVerKeyId,omitempty"`
	SDKVerKey          string `json:"sdkVerKey,omitempty"`
	EndpointURL        string `json:"endpointUrl,omitempty"`
	RESTAPIToken       string `json:"restApiToken,omitempty"`
	WalletName         string `json:"walletName,omitempty"`
	WalletPath         string `json:"walletPath,omitempty"`

	sessionOnce sync.Once
	session     *Session
}

// Parse decodes a context document.
func Parse(data []byte) (*Context, error) {
	var c Context
	if err := jsoncodec.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode agent context: %w", err)
	}
	return &c, nil
}

// Load reads and decodes the context file at path.
func Load(path string) (*Context, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent context: %w", err)
	}
	return Parse(data)
}

// Save writes the context to path, readable by the owner only since it
// carries the REST API token.
func (c *Context) Save(path string) error {
	if c == nil {
		return errspkg.ErrContextRequired
	}
	data, err := jsoncodec.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode agent context: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write agent context: %w", err)
	}
	return nil
}

// Validate checks the fields required to send outbound messages.
func (c *Context) Validate() error {
	if c == nil {
		return errspkg.ErrContextRequired
	}
	var errs []error
	if strings.TrimSpace(c.VerityURL) == "" {
		errs = append(errs, errors.New("verityUrl is required"))
	} else if u, err := url.Parse(c.VerityURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("verityUrl %q is not an absolute URL", c.VerityURL))
	}
	if strings.TrimSpace(c.DomainDID) == "" {
		errs = append(errs, errors.New("domainDID is required"))
	}
	return errors.Join(errs...)
}

// Session returns the follow-up state shared by the handlers of this agent.
func (c *Context) Session() *Session {
	c.sessionOnce.Do(func() {
		c.session = NewSession()
	})
	return c.session
}

// String renders the context with the API token redacted.
func (c *Context) String() string {
	if c == nil {
		return "<nil>"
	}
	token := ""
	if c.RESTAPIToken != "" {
		token = "****"
	}
	return fmt.Sprintf("agentctx.Context{VerityURL:%q DomainDID:%q EndpointURL:%q SDKVerKeyID:%q RESTAPIToken:%q}",
		c.VerityURL, c.DomainDID, c.EndpointURL, c.SDKVerKeyID, token)
}
