// Package verification checks that the domain or mailbox of a sender or
// recipient can receive mail: it resolves the domain's mailhosts and, for
// the stronger verification types, talks SMTP to them.
//
// Verification types, from weakest to strongest:
//
//	mx          the domain has a mailhost (MX, A or AAAA record)
//	connection  a mailhost accepts SMTP connections
//	domain      a mailhost accepts mail for postmaster@domain
//	user        a mailhost accepts mail for the address itself
//
// Results are signed levels (see core.Level); results served from the
// persistent cache are shifted by core.PersistentCacheOffset.
package verification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mikey/mail-policy/internal/adapters/store"
	"github.com/mikey/mail-policy/internal/config"
	"github.com/mikey/mail-policy/internal/core"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
)

// Type is the module type name used in configuration
const Type = "verification"

// maxMailhosts bounds how many mailhosts are probed for one request
const maxMailhosts = 3

// VerificationType is the escalation level of a check
type VerificationType string

const (
	TypeMX         VerificationType = "mx"
	TypeConnection VerificationType = "connection"
	TypeDomain     VerificationType = "domain"
	TypeUser       VerificationType = "user"
)

// Level returns the result level reached by a conclusive check of this type
func (t VerificationType) Level() core.Level {
	switch t {
	case TypeConnection:
		return core.LevelConnection
	case TypeDomain:
		return core.LevelDomain
	case TypeUser:
		return core.LevelUser
	default:
		return core.LevelMX
	}
}

func parseType(s string) (VerificationType, bool) {
	switch t := VerificationType(cases.Fold().String(strings.TrimSpace(s))); t {
	case TypeMX, TypeConnection, TypeDomain, TypeUser:
		return t, true
	default:
		return "", false
	}
}

// Deps are the collaborators of the verification engine
type Deps struct {
	Resolver core.MailhostResolver
	Dialer   core.SMTPDialer
	// Store is required when the cacheDB option is enabled
	Store core.PersistentStore
	// LocalDomain is used in the MAIL FROM address of probes
	LocalDomain string
}

// Verifier is the verification check module
type Verifier struct {
	name        string
	param       string
	timeout     time.Duration
	vtype       VerificationType
	dbPositive  time.Duration
	policy      core.TTLPolicy
	db          *store.Client
	resolver    core.MailhostResolver
	dialer      core.SMTPDialer
	localDomain string
	logger      *zap.Logger
}

var _ core.Checkable = (*Verifier)(nil)

// New configures a verification check
func New(ctx context.Context, name string, cfg *config.Config, deps Deps, logger *zap.Logger) (*Verifier, error) {
	cfg.SetDefault("timeout", 20)
	cfg.SetDefault("vtype", string(TypeMX))
	cfg.SetDefault("cacheDB", false)
	cfg.SetDefault("table", "verification")
	cfg.SetDefault("dbExpirePositive", 28*24*60*60)
	cfg.SetDefault("dbExpireNegative", 3*60*60)
	cfg.SetDefault("cachePositive", 24*60*60)
	cfg.SetDefault("cacheUnknown", 15*60)
	cfg.SetDefault("cacheNegative", 60*60)

	for _, attr := range []string{"param", "timeout", "vtype", "table", "dbExpirePositive", "dbExpireNegative"} {
		if !cfg.IsSet(attr) || cfg.GetString(attr) == "" {
			return nil, core.NewConfigError(name, "parameter %q has to be specified for this module", attr)
		}
	}

	vtype, ok := parseType(cfg.GetString("vtype"))
	if !ok {
		return nil, core.NewConfigError(name, "vtype can be only mx, connection, domain or user, not %q", cfg.GetString("vtype"))
	}

	timeout := cfg.GetSeconds("timeout")
	dbPositive := cfg.GetSeconds("dbExpirePositive")
	dbNegative := cfg.GetSeconds("dbExpireNegative")
	if timeout <= 0 || dbPositive <= 0 || dbNegative <= 0 {
		return nil, core.NewConfigError(name, "timeout and persistent cache expiry must be positive")
	}

	if deps.Resolver == nil {
		return nil, core.NewConfigError(name, "no mailhost resolver available")
	}
	if vtype != TypeMX && deps.Dialer == nil {
		return nil, core.NewConfigError(name, "no SMTP dialer available for %s verification", vtype)
	}

	v := &Verifier{
		name:       name,
		param:      cfg.GetString("param"),
		timeout:    timeout,
		vtype:      vtype,
		dbPositive: dbPositive,
		policy: core.TTLPolicy{
			Positive: cfg.GetSeconds("cachePositive"),
			Unknown:  cfg.GetSeconds("cacheUnknown"),
			Negative: cfg.GetSeconds("cacheNegative"),
		},
		resolver:    deps.Resolver,
		dialer:      deps.Dialer,
		localDomain: deps.LocalDomain,
		logger:      logger.Named(name),
	}
	if v.localDomain == "" {
		v.localDomain = "localhost"
	}

	if cfg.GetBool("cacheDB") {
		if deps.Store == nil {
			return nil, core.NewConfigError(name, "cacheDB requires a persistent store")
		}
		// writes without explicit expiry (negative results) use the negative pair
		db, err := store.NewClient(ctx, deps.Store, cfg.GetString("table"), store.SoftExpire(dbNegative), dbNegative)
		if err != nil {
			return nil, core.NewConfigError(name, "persistent cache: %v", err)
		}
		v.db = db
	}

	return v, nil
}

// Name returns the module instance name
func (v *Verifier) Name() string {
	return v.name
}

// VerificationType returns the configured verification type
func (v *Verifier) VerificationType() VerificationType {
	return v.vtype
}

// CachePolicy returns the TTL of each cache tier
func (v *Verifier) CachePolicy() core.TTLPolicy {
	return v.policy
}

// Fingerprint derives the cache key from the verified address
func (v *Verifier) Fingerprint(req core.Request) string {
	user, domain := v.userDomain(req.Get(v.param))
	switch {
	case domain == "":
		return core.HashKey("")
	case user == "":
		return core.HashKey(domain)
	default:
		return core.HashKey(user + "@" + domain)
	}
}

// Check verifies the configured request field
func (v *Verifier) Check(ctx context.Context, req core.Request) core.Verdict {
	return v.Verify(ctx, req).Verdict()
}

// userDomain splits an address at its last '@'. A value without '@' is a
// domain with user postmaster. The user is forced to postmaster for domain
// verification and dropped for mx and connection verification.
func (v *Verifier) userDomain(value string) (string, string) {
	if value == "" {
		return "", ""
	}

	user, domain := "postmaster", value
	if i := strings.LastIndexByte(value, '@'); i >= 0 {
		user, domain = value[:i], value[i+1:]
	}

	switch v.vtype {
	case TypeDomain:
		user = "postmaster"
	case TypeMX, TypeConnection:
		user = ""
	}
	return user, domain
}

// persistentKey is the key of the request in the persistent cache
func (v *Verifier) persistentKey(user, domain string) string {
	if v.vtype == TypeUser {
		return user + "@" + domain
	}
	return domain
}

// Verify runs the verification state machine and returns the tagged result
func (v *Verifier) Verify(ctx context.Context, req core.Request) core.Result {
	value := req.Get(v.param)

	// RFC 5321 4.5.5: the reverse-path may be null
	if v.param == core.FieldSender && value == "" {
		return core.Succeeded(core.LevelRFC, fmt.Sprintf("%s accept empty From address", v.name))
	}

	// RFC 5321 4.5.1: postmaster must always be accepted
	if v.param == core.FieldRecipient {
		lc := cases.Fold().String(value)
		if lc == "postmaster" || strings.HasPrefix(lc, "postmaster@") {
			return core.Succeeded(core.LevelRFC, fmt.Sprintf("%s accept all mail to postmaster", v.name))
		}
	}

	user, domain := v.userDomain(value)
	if domain == "" {
		expl := fmt.Sprintf("%s: address for %s in unknown format: %s", v.name, v.param, value)
		v.logger.Warn("Address in unknown format", zap.String("param", v.param), zap.String("value", value))
		return core.Failed(core.LevelFormat, expl)
	}
	key := v.persistentKey(user, domain)

	// a soft-expired record is only served when fresh probing gives no answer
	var fallback *core.Result
	if v.db != nil {
		rec, status, err := v.db.Get(ctx, key)
		if err != nil {
			v.logger.Warn("Failed to read persistent cache", zap.String("key", key), zap.Error(err))
		}
		switch status {
		case core.RecordFresh:
			return core.ResultFromCode(rec.Code, rec.Explanation, core.Cached)
		case core.RecordSoftExpired:
			cached := core.ResultFromCode(rec.Code, rec.Explanation, core.Cached)
			fallback = &cached
		}
	}

	mailhosts, err := v.resolver.ResolveMailhosts(ctx, domain, false)
	if err != nil {
		if fallback != nil {
			return *fallback
		}
		v.logger.Info("Mailhost resolution failed", zap.String("domain", domain), zap.Error(err))
		return core.Undecided(fmt.Sprintf("%s DNS failure: %v", v.name, err))
	}

	if len(mailhosts) == 0 {
		res := core.Failed(core.LevelMX, fmt.Sprintf("%s: no mailhost for %s", v.name, domain))
		v.logger.Info("No mailhost", zap.String("domain", domain))
		v.persistNegative(ctx, key, res)
		return res
	}

	if v.vtype == TypeMX {
		res := core.Succeeded(core.LevelMX, fmt.Sprintf("%s: mailhost for %s exists", v.name, domain))
		v.logger.Info("Mailhost exists", zap.String("domain", domain))
		v.persistPositive(ctx, key, res)
		return res
	}

	outcome, detail := v.probeMailhosts(ctx, mailhosts, user, domain)
	if outcome == core.Indeterminate {
		if fallback != nil {
			return *fallback
		}
		// not persisted: it may be a passing network problem and we don't
		// want to slow down mail from such sites for the whole expiry
		v.logger.Info("Verification got no result",
			zap.String("domain", domain),
			zap.String("detail", detail))
		return core.Undecided(fmt.Sprintf("%s didn't get any result", v.name))
	}

	res := core.Result{
		Level:       v.vtype.Level(),
		Outcome:     outcome,
		Explanation: fmt.Sprintf("%s: %s", v.name, detail),
	}
	if outcome == core.Success {
		v.persistPositive(ctx, key, res)
	} else {
		v.persistNegative(ctx, key, res)
	}
	return res
}

func (v *Verifier) persistPositive(ctx context.Context, key string, res core.Result) {
	if v.db == nil {
		return
	}
	if err := v.db.Put(ctx, key, res.Code(), res.Explanation, store.SoftExpire(v.dbPositive), v.dbPositive); err != nil {
		v.logger.Warn("Failed to write persistent cache", zap.String("key", key), zap.Error(err))
	}
}

func (v *Verifier) persistNegative(ctx context.Context, key string, res core.Result) {
	if v.db == nil {
		return
	}
	if err := v.db.PutDefault(ctx, key, res.Code(), res.Explanation); err != nil {
		v.logger.Warn("Failed to write persistent cache", zap.String("key", key), zap.Error(err))
	}
}
