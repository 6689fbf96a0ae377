package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	pkgerrors "github.com/fyreflow/engine/pkg/errors"
)

// bedrockSigner SigV4-signs Claude-on-Bedrock invocations, caching resolved
// AWS credentials per region for up to an hour.
type bedrockSigner struct {
	mu      sync.Mutex
	signer  *v4.Signer
	cfgs    map[string]aws.Config
	creds   map[string]aws.Credentials
	expires map[string]time.Time
}

func newBedrockSigner() *bedrockSigner {
	return &bedrockSigner{
		signer:  v4.NewSigner(),
		cfgs:    make(map[string]aws.Config),
		creds:   make(map[string]aws.Credentials),
		expires: make(map[string]time.Time),
	}
}

var defaultBedrockSigner = newBedrockSigner()

func (s *bedrockSigner) credentialsFor(ctx context.Context, region string) (aws.Config, aws.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.expires[region]; ok && time.Now().Before(exp) {
		return s.cfgs[region], s.creds[region], nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return aws.Config{}, aws.Credentials{}, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return aws.Config{}, aws.Credentials{}, fmt.Errorf("unable to resolve AWS credentials: %w", err)
	}

	expiry := creds.Expires
	if expiry.IsZero() || expiry.Sub(time.Now()) > time.Hour {
		expiry = time.Now().Add(time.Hour)
	}

	s.cfgs[region] = awsCfg
	s.creds[region] = creds
	s.expires[region] = expiry
	return awsCfg, creds, nil
}

// validateCredentials calls STS GetCallerIdentity so a misconfigured
// execution role fails fast with a clear error instead of surfacing as an
// opaque Bedrock 403.
func (s *bedrockSigner) validateCredentials(ctx context.Context, region string) error {
	awsCfg, _, err := s.credentialsFor(ctx, region)
	if err != nil {
		return err
	}
	validateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = sts.NewFromConfig(awsCfg).GetCallerIdentity(validateCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("AWS credential validation failed: %w", err)
	}
	return nil
}

// sign produces a SigV4-signed request against the Bedrock runtime service.
func (s *bedrockSigner) sign(ctx context.Context, req *http.Request, region string, body []byte) error {
	_, creds, err := s.credentialsFor(ctx, region)
	if err != nil {
		return err
	}
	hash := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(hash[:])
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)
	return s.signer.SignHTTP(ctx, creds, req, payloadHash, "bedrock", region, time.Now())
}

// bedrockAnthropicRequest is the Claude Messages-API-shaped body Bedrock's
// anthropic_version envelope expects, distinct from the direct Anthropic API
// in that it omits "model" (selected via the URL path) and requires
// anthropic_version.
type bedrockAnthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
}

type bedrockAnthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// invokeBedrockAnthropic calls Bedrock's non-streaming InvokeModel endpoint
// for a Claude model id, SigV4-signing the request with credentials from the
// standard AWS provider chain.
func (t *HTTPTransport) invokeBedrockAnthropic(ctx context.Context, cfg Config, req Request, log *slog.Logger) (string, error) {
	region := cfg.AWSRegion
	if region == "" {
		region = "us-east-1"
	}

	if err := defaultBedrockSigner.validateCredentials(ctx, region); err != nil {
		return "", &pkgerrors.ProviderError{Provider: "bedrock_anthropic", Message: err.Error()}
	}

	maxTokens := clip(int(float64(req.ContextWindowTokens)*0.02), 1200, 6400)
	body := bedrockAnthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		System:           req.SystemPrompt,
		Messages:         []anthropicMessage{{Role: "user", Content: req.Context}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", region)
	}
	url := fmt.Sprintf("%s/model/%s/invoke", baseURL, req.Model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	if err := defaultBedrockSigner.sign(ctx, httpReq, region, payload); err != nil {
		return "", &pkgerrors.ProviderError{Provider: "bedrock_anthropic", Message: fmt.Sprintf("failed to sign request: %v", err)}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", &pkgerrors.ProviderError{Provider: "bedrock_anthropic", Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &pkgerrors.ProviderError{Provider: "bedrock_anthropic", Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &pkgerrors.ProviderError{
			Provider:   "bedrock_anthropic",
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}

	var decoded bedrockAnthropicResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("failed to decode bedrock response: %w", err)
	}

	var out strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}
