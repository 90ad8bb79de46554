package validator

import (
	"context"
	"crypto/ecdsa"
	"time"

	"go.uber.org/zap"

	"github.com/kokukuma/eudiw-verifier/decoder"
	"github.com/kokukuma/eudiw-verifier/document"
	"github.com/kokukuma/eudiw-verifier/internal/logfields"
	"github.com/kokukuma/eudiw-verifier/internal/trustlist"
	"github.com/kokukuma/eudiw-verifier/openid4vp"
	"github.com/kokukuma/eudiw-verifier/sdjwt"
)

// TrustSource provides the current trust lists.
type TrustSource interface {
	Get() (*trustlist.Snapshot, error)
}

// Session is the part of a session the pipeline binds a response to.
type Session struct {
	ID            string
	Nonce         string
	EncryptionKey *ecdsa.PrivateKey
}

// Validator runs wallet responses through the seven validation layers.
type Validator struct {
	identity    openid4vp.ClientIdentity
	serviceURL  string
	normalizer  *decoder.Normalizer
	trust       TrustSource
	strictTrust bool
	maxIATSkew  time.Duration
	now         func() time.Time
	logger      *zap.Logger
	observe     func(failedLayer int, elapsed time.Duration)
}

type Option func(*Validator)

func WithNormalizer(n *decoder.Normalizer) Option {
	return func(v *Validator) {
		v.normalizer = n
	}
}

// WithStrictTrust turns an empty trust list into a failure instead of a
// warning.
func WithStrictTrust(strict bool) Option {
	return func(v *Validator) {
		v.strictTrust = strict
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// WithObserver is called after every validation with the failed layer, 0
// on success.
func WithObserver(fn func(failedLayer int, elapsed time.Duration)) Option {
	return func(v *Validator) {
		v.observe = fn
	}
}

func New(identity openid4vp.ClientIdentity, serviceURL string, trust TrustSource, opts ...Option) *Validator {
	v := &Validator{
		identity:   identity,
		serviceURL: serviceURL,
		trust:      trust,
		maxIATSkew: 60 * time.Second,
		now:        time.Now,
		logger:     zap.NewNop(),
		observe:    func(int, time.Duration) {},
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.normalizer == nil {
		v.normalizer = decoder.NewNormalizer(decoder.WithLogger(v.logger))
	}
	return v
}

// presentation is threaded through the layers; each layer reads what the
// earlier ones established.
type presentation struct {
	sub     *decoder.Submission
	session Session

	normalized *decoder.Result
	credential string
	// envelope holds the claims binding the response to the session: the
	// outer VP JWT payload, or the key binding JWT payload of a bare SD-JWT.
	envelope       map[string]interface{}
	envelopeSource string

	token *sdjwt.Token
	pid   document.PidClaims
}

type layer struct {
	number int
	name   string
	check  func(v *Validator, p *presentation) *Error
}

var layers = []layer{
	{LayerStructure, "structure", (*Validator).checkStructure},
	{LayerSessionBinding, "session_binding", (*Validator).checkSessionBinding},
	{LayerCredentialAssurance, "credential_assurance", (*Validator).checkCredentialAssurance},
	{LayerHolderBinding, "holder_binding", (*Validator).checkHolderBinding},
	{LayerWalletIntegrity, "wallet_integrity", (*Validator).checkWalletIntegrity},
	{LayerSelectiveDisclosure, "selective_disclosure", (*Validator).checkSelectiveDisclosure},
	{LayerBusinessRules, "business_rules", (*Validator).checkBusinessRules},
}

// Validate runs every layer in order and stops at the first failure. The
// returned error is a *Error unless ctx was cancelled.
func (v *Validator) Validate(ctx context.Context, sub *decoder.Submission, session Session) (document.PidClaims, error) {
	start := v.now()
	p := &presentation{sub: sub, session: session}
	logger := v.logger.With(logfields.WithSessionID(session.ID))

	for _, l := range layers {
		if err := ctx.Err(); err != nil {
			return document.PidClaims{}, err
		}
		if verr := l.check(v, p); verr != nil {
			logger.Info("vp token rejected",
				logfields.WithLayer(l.number),
				zap.String("check", l.name),
				zap.String("reason", verr.Message),
			)
			v.observe(l.number, v.now().Sub(start))
			return document.PidClaims{}, verr
		}
	}

	logger.Info("vp token accepted",
		logfields.WithStrategy(p.normalized.Strategy),
		zap.Bool("encrypted", p.normalized.Encrypted),
		logfields.WithDuration(v.now().Sub(start)),
	)
	v.observe(0, v.now().Sub(start))
	return p.pid, nil
}

func (v *Validator) snapshot() *trustlist.Snapshot {
	s, err := v.trust.Get()
	if err != nil {
		v.logger.Warn("trust lists unavailable, treating as empty", logfields.WithError(err))
		return &trustlist.Snapshot{}
	}
	return s
}
