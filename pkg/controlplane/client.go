package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fleetward/fleetward/pkg/domain"
	"github.com/golang-jwt/jwt/v5"
)

// Session is granted by the control plane at registration.
// All later calls are authorized with its Token.
type Session struct {
	AgentId string
	Token   string
}

// Backlog is the work the control plane wants this agent to act on.
type Backlog struct {
	// Requests are workloads to be launched (or already known; the
	// store decides which are new).
	Requests []domain.WorkloadRequest

	// Revocations are request ids whose workloads should be drained.
	Revocations []string
}

// ResourceStatus is one resource's state as reported to the control plane.
type ResourceStatus struct {
	RequestId string
	State     domain.ResourceState
	Exit      *domain.ResourceExit
	Message   string
}

// Report is the agent's periodic status upload.
type Report struct {
	Healthy   bool
	Resources []ResourceStatus
}

type Client interface {
	// Register introduces this agent to the control plane and obtains a Session.
	//
	// Returns
	//
	// - *Session: session to be passed to Poll and ReportStatus
	//
	// - error: domain.ErrAuth when credentials are rejected (do not retry),
	// domain.ErrNetwork when the control plane is unreachable (retryable).
	Register(ctx context.Context, identity domain.AgentIdentity) (*Session, error)

	// Poll fetches the backlog of workload requests and revocations.
	Poll(ctx context.Context, session *Session) (Backlog, error)

	// ReportStatus uploads resource states and agent health.
	ReportStatus(ctx context.Context, session *Session, report Report) error
}

type client struct {
	httpclient *http.Client
	api        string
}

// NewClient creates a Client for the control plane at apiRoot.
func NewClient(apiRoot string) Client {
	return &client{
		httpclient: &http.Client{Timeout: 30 * time.Second},
		api:        strings.TrimSuffix(apiRoot, "/"),
	}
}

func (c *client) apipath(path ...string) string {
	return strings.Join(append([]string{c.api, "api"}, path...), "/")
}

// assertion proves possession of the agent token without sending it.
//
// The control plane knows the token for (organization, deployment)
// and verifies the signature on its side.
func assertion(identity domain.AgentIdentity, now time.Time) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": identity.Organization + "/" + identity.Deployment,
		"iat": now.Unix(),
		"exp": now.Add(1 * time.Minute).Unix(),
	})
	return tok.SignedString([]byte(identity.Token))
}

func (c *client) Register(ctx context.Context, identity domain.AgentIdentity) (*Session, error) {
	if err := identity.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrAuth, err)
	}

	asrt, err := assertion(identity, time.Now())
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(registrationRequest{
		Organization: identity.Organization,
		Deployment:   identity.Deployment,
		Assertion:    asrt,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.apipath("agents", "register"), bytes.NewReader(payload),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpclient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	var granted registrationResponse
	if err := unmarshalJsonResponse(resp, &granted); err != nil {
		return nil, err
	}
	if granted.AgentId == "" || granted.SessionToken == "" {
		return nil, fmt.Errorf("%w: registration response is incomplete", domain.ErrNetwork)
	}

	return &Session{AgentId: granted.AgentId, Token: granted.SessionToken}, nil
}

func (c *client) Poll(ctx context.Context, session *Session) (Backlog, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.apipath("agents", session.AgentId, "backlog"), nil,
	)
	if err != nil {
		return Backlog{}, err
	}
	req.Header.Set("Authorization", "Bearer "+session.Token)

	resp, err := c.httpclient.Do(req)
	if err != nil {
		return Backlog{}, fmt.Errorf("%w: %s", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	var body backlogResponse
	if err := unmarshalJsonResponse(resp, &body); err != nil {
		return Backlog{}, err
	}
	return body.Binding(), nil
}

func (c *client) ReportStatus(ctx context.Context, session *Session, report Report) error {
	payload, err := json.Marshal(composeReport(report))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPut, c.apipath("agents", session.AgentId, "status"), bytes.NewReader(payload),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+session.Token)

	resp, err := c.httpclient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	return classify(resp)
}

// classify maps HTTP status codes onto the agent's error taxonomy.
func classify(resp *http.Response) error {
	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf(
			"%w: control plane rejected credentials (status code = %d)",
			domain.ErrAuth, resp.StatusCode,
		)
	case 500 <= resp.StatusCode:
		return fmt.Errorf(
			"%w: server error (status code = %d)", domain.ErrNetwork, resp.StatusCode,
		)
	default:
		// 429 and other unexpected statuses are nothing the agent can
		// correct. Treated as transient so the loops retry instead of
		// tearing the process down.
		return fmt.Errorf(
			"%w: unexpected response (status code = %d)",
			domain.ErrNetwork, resp.StatusCode,
		)
	}
}

func unmarshalJsonResponse[T any](resp *http.Response, v *T) error {
	if err := classify(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf(
			"%w: malformed response: %s (status code = %d)",
			domain.ErrNetwork, err, resp.StatusCode,
		)
	}
	return nil
}
