package decoder

import (
	"crypto/ecdsa"
	"fmt"
	"mime"
	"strings"

	"github.com/go-jose/go-jose/v3"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/kokukuma/eudiw-verifier/internal/logfields"
)

// Transport strategies in priority order.
const (
	StrategyEncryptedResponse = "encrypted_response"
	StrategyVPToken           = "vp_token"
	StrategyRawJWTBody        = "raw_jwt_body"
)

const (
	DefaultMaxEncryptedSize = 2 << 20
	DefaultMaxVPTokenSize   = 1_000_000
)

// Result is the canonical presentation found in a submission.
type Result struct {
	VPToken string
	// Strategy names the transport that matched, Interpretation the shape
	// of the decrypted payload when the response was encrypted.
	Strategy       string
	Interpretation string
	Encrypted      bool
	// State is the state echoed by the wallet, empty if none was sent.
	State string
}

type strategy struct {
	name  string
	match func(n *Normalizer, sub *Submission, key *ecdsa.PrivateKey) (*Result, error)
}

// Normalizer reduces a wallet submission to one vp_token string by trying
// each transport strategy in a fixed order.
type Normalizer struct {
	strategies       []strategy
	maxEncryptedSize int
	maxVPTokenSize   int
	logger           *zap.Logger
}

type Option func(*Normalizer)

func WithLogger(logger *zap.Logger) Option {
	return func(n *Normalizer) {
		n.logger = logger
	}
}

func WithMaxEncryptedSize(size int) Option {
	return func(n *Normalizer) {
		n.maxEncryptedSize = size
	}
}

func WithMaxVPTokenSize(size int) Option {
	return func(n *Normalizer) {
		n.maxVPTokenSize = size
	}
}

func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		strategies: []strategy{
			{StrategyEncryptedResponse, matchEncryptedResponse},
			{StrategyVPToken, matchVPToken},
			{StrategyRawJWTBody, matchRawJWTBody},
		},
		maxEncryptedSize: DefaultMaxEncryptedSize,
		maxVPTokenSize:   DefaultMaxVPTokenSize,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize returns the result of the first matching strategy. A strategy
// that matches but fails stops the search; no match at all is
// ErrMissingVPToken.
func (n *Normalizer) Normalize(sub *Submission, key *ecdsa.PrivateKey) (*Result, error) {
	for _, s := range n.strategies {
		res, err := s.match(n, sub, key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		if res == nil {
			continue
		}
		res.Strategy = s.name
		if res.State == "" {
			res.State = sub.State
		}
		n.logger.Debug("normalized wallet response",
			logfields.WithStrategy(res.Strategy),
			zap.String("interpretation", res.Interpretation),
			zap.Bool("encrypted", res.Encrypted),
		)
		return res, nil
	}
	return nil, ErrMissingVPToken
}

func matchEncryptedResponse(n *Normalizer, sub *Submission, key *ecdsa.PrivateKey) (*Result, error) {
	if sub.Response == "" {
		return nil, nil
	}
	if len(sub.Response) > n.maxEncryptedSize {
		return nil, fmt.Errorf("%w: encrypted response is %d bytes", ErrResponseTooLarge, len(sub.Response))
	}
	return n.decryptAndInterpret(sub.Response, key)
}

func matchVPToken(n *Normalizer, sub *Submission, key *ecdsa.PrivateKey) (*Result, error) {
	vp := strings.TrimSpace(sub.VPToken)
	if vp == "" {
		return nil, nil
	}
	if len(vp) > n.maxVPTokenSize {
		return nil, fmt.Errorf("%w: vp_token is %d bytes", ErrResponseTooLarge, len(vp))
	}

	// a compact JWE posted as vp_token
	if strings.Count(vp, ".") == 4 && !strings.Contains(vp, "~") {
		return n.decryptAndInterpret(vp, key)
	}

	if gjson.Valid(vp) {
		doc := gjson.Parse(vp)
		token, ok := vpTokenOf(doc)
		if !ok {
			return nil, ErrMissingVPToken
		}
		res := &Result{VPToken: token}
		if doc.IsObject() {
			res.Interpretation = InterpretDCQLMap
		}
		return res, nil
	}
	return &Result{VPToken: vp}, nil
}

func matchRawJWTBody(n *Normalizer, sub *Submission, _ *ecdsa.PrivateKey) (*Result, error) {
	if !isJWTMediaType(sub.ContentType) {
		return nil, nil
	}
	body := strings.TrimSpace(string(sub.Body))
	if body == "" {
		return nil, nil
	}
	if len(body) > n.maxVPTokenSize {
		return nil, fmt.Errorf("%w: body is %d bytes", ErrResponseTooLarge, len(body))
	}
	return &Result{VPToken: body}, nil
}

func isJWTMediaType(contentType string) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	}
	return contentType == "application/jwt" ||
		strings.HasSuffix(contentType, "+jwt") ||
		strings.HasSuffix(contentType, "sd-jwt")
}

func (n *Normalizer) decryptAndInterpret(compact string, key *ecdsa.PrivateKey) (*Result, error) {
	decrypted, err := Decrypt(compact, key)
	if err != nil {
		return nil, err
	}

	token, state, name, err := interpret(decrypted)
	if err != nil {
		return nil, err
	}
	return &Result{
		VPToken:        token,
		Interpretation: name,
		Encrypted:      true,
		State:          state,
	}, nil
}

// Decrypt opens a compact JWE addressed to the session's ephemeral key.
func Decrypt(compact string, key *ecdsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil encryption key", ErrDecrypt)
	}

	jwe, err := jose.ParseEncrypted(strings.TrimSpace(compact))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	decrypted, err := jwe.Decrypt(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return decrypted, nil
}
