package route53

import (
	"context"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsr53 "github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"

	"github.com/dmitrymomot/acmefront/internal/delegation"
)

// API is the subset of the Route 53 client used by Provider.
type API interface {
	ChangeResourceRecordSets(ctx context.Context, params *awsr53.ChangeResourceRecordSetsInput, optFns ...func(*awsr53.Options)) (*awsr53.ChangeResourceRecordSetsOutput, error)
	ListResourceRecordSets(ctx context.Context, params *awsr53.ListResourceRecordSetsInput, optFns ...func(*awsr53.Options)) (*awsr53.ListResourceRecordSetsOutput, error)
}

// Provider writes TXT records into Route 53 hosted zones.
type Provider struct {
	client API
	cfg    Config
}

// Option configures a Provider.
type Option func(*options)

type options struct {
	client API
}

// WithClient injects a Route 53 client, mainly for tests.
func WithClient(c API) Option {
	return func(o *options) { o.client = c }
}

// New creates a Provider.
func New(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	if cfg.Region == "" {
		return nil, ErrInvalidConfig
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 60
	}
	if cfg.MaxValues <= 0 {
		cfg.MaxValues = defaultMaxValues
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	client := o.client
	if client == nil {
		awsOptions := []func(*config.LoadOptions) error{
			config.WithRegion(cfg.Region),
		}
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			awsOptions = append(awsOptions,
				config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID,
					cfg.SecretAccessKey,
					"",
				)),
			)
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, awsOptions...)
		if err != nil {
			return nil, classifyError(err, "load aws config")
		}
		client = awsr53.NewFromConfig(awsCfg)
	}

	return &Provider{client: client, cfg: cfg}, nil
}

const defaultMaxValues = 20

// UpsertTXT merges values into the TXT record set at name. Values of past
// challenges are evicted oldest first once the set exceeds MaxValues; the
// new values are always kept.
func (p *Provider) UpsertTXT(ctx context.Context, zone, name string, values []string) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	name = fqdn(name)
	existing, ttl, err := p.lookup(ctx, zone, name)
	if err != nil {
		return err
	}

	merged := slices.Clone(existing)
	for _, v := range values {
		if !slices.Contains(merged, v) {
			merged = append(merged, v)
		}
	}
	added := len(merged) - len(existing)
	if added == 0 {
		return delegation.ErrRecordExists
	}
	if keep := max(p.cfg.MaxValues, added); len(merged) > keep {
		merged = merged[len(merged)-keep:]
	}
	if ttl == 0 {
		ttl = p.cfg.TTL
	}

	_, err = p.client.ChangeResourceRecordSets(ctx, &awsr53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zone),
		ChangeBatch: &types.ChangeBatch{
			Comment: aws.String("acmefront dcv delegation"),
			Changes: []types.Change{{
				Action:            types.ChangeActionUpsert,
				ResourceRecordSet: txtRecordSet(name, ttl, merged),
			}},
		},
	})
	return classifyError(err, "upsert txt")
}

// DeleteTXT removes the whole TXT record set at name.
func (p *Provider) DeleteTXT(ctx context.Context, zone, name string) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	name = fqdn(name)
	existing, ttl, err := p.lookup(ctx, zone, name)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return delegation.ErrRecordNotFound
	}

	_, err = p.client.ChangeResourceRecordSets(ctx, &awsr53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zone),
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{{
				Action:            types.ChangeActionDelete,
				ResourceRecordSet: txtRecordSet(name, ttl, existing),
			}},
		},
	})
	return classifyError(err, "delete txt")
}

// lookup returns the current TXT values at name, unquoted.
func (p *Provider) lookup(ctx context.Context, zone, name string) ([]string, int64, error) {
	out, err := p.client.ListResourceRecordSets(ctx, &awsr53.ListResourceRecordSetsInput{
		HostedZoneId:    aws.String(zone),
		StartRecordName: aws.String(name),
		StartRecordType: types.RRTypeTxt,
		MaxItems:        aws.Int32(1),
	})
	if err != nil {
		return nil, 0, classifyError(err, "list txt")
	}

	for _, rrs := range out.ResourceRecordSets {
		if rrs.Type != types.RRTypeTxt || !strings.EqualFold(aws.ToString(rrs.Name), name) {
			continue
		}
		values := make([]string, 0, len(rrs.ResourceRecords))
		for _, rr := range rrs.ResourceRecords {
			values = append(values, strings.Trim(aws.ToString(rr.Value), `"`))
		}
		return values, aws.ToInt64(rrs.TTL), nil
	}
	return nil, 0, nil
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.cfg.Timeout)
}

func txtRecordSet(name string, ttl int64, values []string) *types.ResourceRecordSet {
	records := make([]types.ResourceRecord, 0, len(values))
	for _, v := range values {
		records = append(records, types.ResourceRecord{Value: aws.String(`"` + v + `"`)})
	}
	return &types.ResourceRecordSet{
		Name:            aws.String(name),
		Type:            types.RRTypeTxt,
		TTL:             aws.Int64(ttl),
		ResourceRecords: records,
	}
}

func fqdn(name string) string {
	if strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}

var _ delegation.DNSProvider = (*Provider)(nil)
