package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/caarlos0/env/v11"
)

// DefaultCredentialsFile is where the credential descriptor is provisioned
// on the analysis hosts. BEDROCK_CREDENTIALS_PATH overrides it.
const DefaultCredentialsFile = "/home/ec2-user/bedrock.json"

// DefaultCredentialsPath returns the credential file tried when no path is given.
func DefaultCredentialsPath() string {
	if p := os.Getenv("BEDROCK_CREDENTIALS_PATH"); p != "" {
		return p
	}
	return DefaultCredentialsFile
}

// Credentials is a normalized AWS credential descriptor.
type Credentials struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	SessionToken    string `json:"sessionToken,omitempty"`
	Region          string `json:"region"`
}

// CredentialOption configures credential parsing.
type CredentialOption func(*credentialOptions)

type credentialOptions struct {
	defaultRegion string
}

// WithDefaultRegion fills the region when the descriptor does not carry one.
func WithDefaultRegion(region string) CredentialOption {
	return func(o *credentialOptions) {
		o.defaultRegion = region
	}
}

// LoadCredentials reads and normalizes a credential descriptor file. An empty
// path means DefaultCredentialsPath().
func LoadCredentials(path string, opts ...CredentialOption) (*Credentials, error) {
	if path == "" {
		path = DefaultCredentialsPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newError(CodeCredentialsNotFound, fmt.Sprintf("credentials file %s not found", path), err)
		}
		return nil, fmt.Errorf("failed to read credentials file %s: %w", path, err)
	}
	return ParseCredentials(data, opts...)
}

// ParseCredentials accepts a JSON object or base64-encoded JSON object with
// canonical or aliased field names.
func ParseCredentials(data []byte, opts ...CredentialOption) (*Credentials, error) {
	var o credentialOptions
	for _, opt := range opts {
		opt(&o)
	}

	doc, err := decodeCredentialDocument(data)
	if err != nil {
		return nil, err
	}
	creds, err := normalizeCredentials(doc)
	if err != nil {
		return nil, err
	}
	if creds.Region == "" {
		creds.Region = o.defaultRegion
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return creds, nil
}

// envCredentials mirrors the standard AWS environment variables.
type envCredentials struct {
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	SessionToken    string `env:"AWS_SESSION_TOKEN"`
	Region          string `env:"AWS_REGION"`
	DefaultRegion   string `env:"AWS_DEFAULT_REGION"`
}

// CredentialsFromEnvironment builds credentials from the ambient AWS
// variables. AWS_REGION wins over AWS_DEFAULT_REGION.
func CredentialsFromEnvironment(opts ...CredentialOption) (*Credentials, error) {
	var o credentialOptions
	for _, opt := range opts {
		opt(&o)
	}

	var e envCredentials
	if err := env.Parse(&e); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	creds := &Credentials{
		AccessKeyID:     e.AccessKeyID,
		SecretAccessKey: e.SecretAccessKey,
		SessionToken:    e.SessionToken,
		Region:          e.Region,
	}
	if creds.Region == "" {
		creds.Region = e.DefaultRegion
	}
	if creds.Region == "" {
		creds.Region = o.defaultRegion
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return creds, nil
}

// Validate checks that every required field is present.
func (c *Credentials) Validate() error {
	var missing []string
	if c.AccessKeyID == "" {
		missing = append(missing, "accessKeyId")
	}
	if c.SecretAccessKey == "" {
		missing = append(missing, "secretAccessKey")
	}
	if c.Region == "" {
		missing = append(missing, "region")
	}
	if len(missing) == 0 {
		return nil
	}
	return &Error{
		Code:    CodeIncompleteCredentials,
		Msg:     "missing " + strings.Join(missing, ", "),
		Missing: missing,
	}
}

// Provider returns a static AWS credentials provider for c.
func (c *Credentials) Provider() aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken)
}

// AWSConfig loads an AWS config pinned to these credentials and region, so
// SDK clients never fall back to the ambient credential chain.
func (c *Credentials) AWSConfig(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error) {
	opts := append([]func(*config.LoadOptions) error{
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(c.Provider()),
	}, optFns...)
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// Redacted returns a log-safe description.
func (c *Credentials) Redacted() string {
	token := "none"
	if c.SessionToken != "" {
		token = "set"
	}
	return fmt.Sprintf("accessKeyId=%s secretAccessKey=**** sessionToken=%s region=%s",
		maskKey(c.AccessKeyID), token, c.Region)
}

func (c *Credentials) String() string {
	return c.Redacted()
}

// LogValue keeps secrets out of structured logs.
func (c *Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("accessKeyId", maskKey(c.AccessKeyID)),
		slog.Bool("sessionToken", c.SessionToken != ""),
		slog.String("region", c.Region),
	)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// --- descriptor decoding ---

const (
	fieldAccessKeyID     = "accessKeyId"
	fieldSecretAccessKey = "secretAccessKey"
	fieldSessionToken    = "sessionToken"
	fieldRegion          = "region"
)

// credentialAliases lists the accepted spellings of each canonical field as
// normalized keys (lowercase, no '_' or '-'), highest priority first.
var credentialAliases = map[string][]string{
	fieldAccessKeyID:     {"accesskeyid", "awsaccesskeyid", "accesskey"},
	fieldSecretAccessKey: {"secretaccesskey", "awssecretaccesskey", "secretkey"},
	fieldSessionToken:    {"sessiontoken", "awssessiontoken", "securitytoken", "awssecuritytoken", "token"},
	fieldRegion:          {"region", "awsregion", "regionname", "awsdefaultregion", "defaultregion"},
}

type credentialAlias struct {
	field string
	rank  int
}

// aliasRank maps a normalized key to its canonical field and priority.
var aliasRank = func() map[string]credentialAlias {
	m := make(map[string]credentialAlias)
	for field, keys := range credentialAliases {
		for i, k := range keys {
			m[k] = credentialAlias{field: field, rank: i}
		}
	}
	return m
}()

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer("_", "", "-", "").Replace(k)
}

func decodeCredentialDocument(data []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, newError(CodeInvalidCredentialFormat, "credentials are empty", nil)
	}

	var doc map[string]any
	jsonErr := json.Unmarshal(trimmed, &doc)
	if jsonErr == nil && doc != nil {
		return doc, nil
	}

	decoded, ok := decodeBase64(trimmed)
	if !ok {
		return nil, newError(CodeInvalidCredentialFormat, "content is neither JSON nor base64", jsonErr)
	}
	doc = nil
	if err := json.Unmarshal(bytes.TrimSpace(decoded), &doc); err != nil || doc == nil {
		if err == nil {
			err = errors.New("decoded content is not a JSON object")
		}
		return nil, newError(CodeInvalidCredentialFormat, "base64 content is not JSON", err)
	}
	return doc, nil
}

func decodeBase64(data []byte) ([]byte, bool) {
	// Encoded files are often line-wrapped.
	s := strings.Join(strings.Fields(string(data)), "")
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		if out, err := enc.DecodeString(s); err == nil {
			return out, true
		}
	}
	return nil, false
}

func normalizeCredentials(doc map[string]any) (*Credentials, error) {
	fields := make(map[string]string)
	if err := collectCredentialFields(doc, fields); err != nil {
		return nil, err
	}
	// STS output nests the keys under "Credentials"; nested values win.
	for k, v := range doc {
		if normalizeKey(k) != "credentials" {
			continue
		}
		nested, ok := v.(map[string]any)
		if !ok {
			return nil, newError(CodeInvalidCredentialFormat, fmt.Sprintf("field %q is not an object", k), nil)
		}
		if err := collectCredentialFields(nested, fields); err != nil {
			return nil, err
		}
	}

	return &Credentials{
		AccessKeyID:     fields[fieldAccessKeyID],
		SecretAccessKey: fields[fieldSecretAccessKey],
		SessionToken:    fields[fieldSessionToken],
		Region:          fields[fieldRegion],
	}, nil
}

type credentialCandidate struct {
	key   string
	rank  int
	value string
}

// less orders candidates by alias priority, then prefers the exact canonical
// spelling, then the lexically smallest key.
func (c credentialCandidate) less(o credentialCandidate, canonical string) bool {
	if c.rank != o.rank {
		return c.rank < o.rank
	}
	if (c.key == canonical) != (o.key == canonical) {
		return c.key == canonical
	}
	return c.key < o.key
}

// collectCredentialFields copies recognized fields into fields. When a
// document carries several spellings of one field, the highest-priority
// spelling wins regardless of map order.
func collectCredentialFields(doc map[string]any, fields map[string]string) error {
	best := make(map[string]credentialCandidate)
	for k, v := range doc {
		alias, ok := aliasRank[normalizeKey(k)]
		if !ok || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return newError(CodeInvalidCredentialFormat, fmt.Sprintf("field %q must be a string", k), nil)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		cand := credentialCandidate{key: strings.TrimSpace(k), rank: alias.rank, value: s}
		if cur, seen := best[alias.field]; seen && !cand.less(cur, alias.field) {
			continue
		}
		best[alias.field] = cand
	}
	for field, c := range best {
		fields[field] = c.value
	}
	return nil
}
