package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/tripwire/pkg/types"
)

// Key layout for the single-table design.
const (
	prefixAlert       = "ALERT#"
	prefixSuppression = "SUPPRESSION#"
	prefixType        = "TYPE#"
	skAlert           = "ALERT"
	skSuppression     = "SUPPRESSION"
	gsi1              = "GSI1"

	defaultRetentionTTL = 7 * 24 * time.Hour
)

// DDBAPI is the subset of the DynamoDB client used by DynamoDB.
type DDBAPI interface {
	PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, input *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, input *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	DescribeTable(ctx context.Context, input *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, input *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	UpdateTimeToLive(ctx context.Context, input *dynamodb.UpdateTimeToLiveInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

// item is the stored shape of both alerts and suppressions.
type item struct {
	PK     string `dynamodbav:"PK"`
	SK     string `dynamodbav:"SK"`
	GSI1PK string `dynamodbav:"GSI1PK"`
	GSI1SK string `dynamodbav:"GSI1SK"`
	Data   string `dynamodbav:"data"`
	TTL    int64  `dynamodbav:"ttl,omitempty"`
}

// DynamoDB stores alerts and suppressions in one table keyed by PK/SK with
// a GSI1 listing index per record type.
type DynamoDB struct {
	client       DDBAPI
	tableName    string
	retentionTTL time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// NewDynamoDB creates a DynamoDB store from config.
func NewDynamoDB(ctx context.Context, cfg *types.DynamoDBConfig, logger *slog.Logger) (*DynamoDB, error) {
	if cfg.TableName == "" {
		return nil, fmt.Errorf("dynamodb table name required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	// For DynamoDB Local: use static credentials and custom endpoint.
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var clientOpts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return NewDynamoDBFromClient(dynamodb.NewFromConfig(awsCfg, clientOpts...), cfg.TableName,
		types.ParseDurationOr(cfg.RetentionTTL, defaultRetentionTTL), logger), nil
}

// NewDynamoDBFromClient creates a DynamoDB store around an existing client
// (useful for testing).
func NewDynamoDBFromClient(client DDBAPI, tableName string, retentionTTL time.Duration, logger *slog.Logger) *DynamoDB {
	if logger == nil {
		logger = slog.Default()
	}
	return &DynamoDB{
		client:       client,
		tableName:    tableName,
		retentionTTL: retentionTTL,
		now:          time.Now,
		logger:       logger,
	}
}

// EnsureTable creates the table and enables TTL. An existing table is not
// an error.
func (d *DynamoDB) EnsureTable(ctx context.Context) error {
	_, err := d.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: &d.tableName,
		KeySchema: []ddbtypes.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: ddbtypes.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: ddbtypes.KeyTypeRange},
		},
		AttributeDefinitions: []ddbtypes.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1PK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1SK"), AttributeType: ddbtypes.ScalarAttributeTypeS},
		},
		GlobalSecondaryIndexes: []ddbtypes.GlobalSecondaryIndex{
			{
				IndexName: aws.String(gsi1),
				KeySchema: []ddbtypes.KeySchemaElement{
					{AttributeName: aws.String("GSI1PK"), KeyType: ddbtypes.KeyTypeHash},
					{AttributeName: aws.String("GSI1SK"), KeyType: ddbtypes.KeyTypeRange},
				},
				Projection: &ddbtypes.Projection{ProjectionType: ddbtypes.ProjectionTypeAll},
			},
		},
		BillingMode: ddbtypes.BillingModePayPerRequest,
	})
	if err != nil {
		var riue *ddbtypes.ResourceInUseException
		if errors.As(err, &riue) {
			return nil // table already exists
		}
		return fmt.Errorf("creating table: %w", err)
	}

	_, err = d.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: &d.tableName,
		TimeToLiveSpecification: &ddbtypes.TimeToLiveSpecification{
			Enabled:       aws.Bool(true),
			AttributeName: aws.String("ttl"),
		},
	})
	if err != nil {
		d.logger.Warn("store: failed to enable TTL (may already be enabled)", "error", err)
	}
	return nil
}

func (d *DynamoDB) put(ctx context.Context, it item) error {
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &d.tableName,
		Item:      av,
	})
	return err
}

func (d *DynamoDB) delete(ctx context.Context, pk, sk string) error {
	out, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &d.tableName,
		Key: map[string]ddbtypes.AttributeValue{
			"PK": &ddbtypes.AttributeValueMemberS{Value: pk},
			"SK": &ddbtypes.AttributeValueMemberS{Value: sk},
		},
		ReturnValues: ddbtypes.ReturnValueAllOld,
	})
	if err != nil {
		return err
	}
	if len(out.Attributes) == 0 {
		return ErrNotFound
	}
	return nil
}

// queryType pages through GSI1 for one record type, newest first.
func (d *DynamoDB) queryType(ctx context.Context, recordType string, limit int) ([]item, error) {
	var (
		items []item
		start map[string]ddbtypes.AttributeValue
	)
	for {
		in := &dynamodb.QueryInput{
			TableName:              &d.tableName,
			IndexName:              aws.String(gsi1),
			KeyConditionExpression: aws.String("GSI1PK = :pk"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":pk": &ddbtypes.AttributeValueMemberS{Value: prefixType + recordType},
			},
			ScanIndexForward:  aws.Bool(false),
			ExclusiveStartKey: start,
		}
		if limit > 0 {
			in.Limit = aws.Int32(int32(limit - len(items)))
		}
		out, err := d.client.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		var page []item
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshaling %s items: %w", recordType, err)
		}
		items = append(items, page...)
		if len(out.LastEvaluatedKey) == 0 || (limit > 0 && len(items) >= limit) {
			return items, nil
		}
		start = out.LastEvaluatedKey
	}
}

// SaveAlert inserts or replaces an alert. Items expire retentionTTL after
// creation.
func (d *DynamoDB) SaveAlert(ctx context.Context, alert types.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshaling alert: %w", err)
	}
	it := item{
		PK:     prefixAlert + alert.ID,
		SK:     skAlert,
		GSI1PK: prefixType + "alert",
		GSI1SK: alert.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z") + "#" + alert.ID,
		Data:   string(data),
	}
	if d.retentionTTL > 0 {
		it.TTL = alert.CreatedAt.Add(d.retentionTTL).Unix()
	}
	if err := d.put(ctx, it); err != nil {
		return fmt.Errorf("saving alert %s: %w", alert.ID, err)
	}
	return nil
}

// ListAlerts returns alerts newest first, skipping items DynamoDB has not
// yet reaped past their TTL.
func (d *DynamoDB) ListAlerts(ctx context.Context, limit int) ([]types.Alert, error) {
	items, err := d.queryType(ctx, "alert", limit)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	now := d.now().Unix()
	alerts := make([]types.Alert, 0, len(items))
	for _, it := range items {
		if it.TTL > 0 && now > it.TTL {
			continue
		}
		var a types.Alert
		if err := json.Unmarshal([]byte(it.Data), &a); err != nil {
			d.logger.Warn("store: skipping corrupt alert data", "pk", it.PK, "error", err)
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// DeleteAlert removes an alert.
func (d *DynamoDB) DeleteAlert(ctx context.Context, id string) error {
	return d.delete(ctx, prefixAlert+id, skAlert)
}

// SaveSuppression stores a suppression that expires at Until.
func (d *DynamoDB) SaveSuppression(ctx context.Context, s types.Suppression) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling suppression: %w", err)
	}
	it := item{
		PK:     prefixSuppression + s.Key,
		SK:     skSuppression,
		GSI1PK: prefixType + "suppression",
		GSI1SK: s.Until.UTC().Format("2006-01-02T15:04:05.000Z") + "#" + s.Key,
		Data:   string(data),
		TTL:    s.Until.Unix(),
	}
	if err := d.put(ctx, it); err != nil {
		return fmt.Errorf("saving suppression %s: %w", s.Key, err)
	}
	return nil
}

// ListSuppressions returns suppressions that have not ended.
func (d *DynamoDB) ListSuppressions(ctx context.Context) ([]types.Suppression, error) {
	items, err := d.queryType(ctx, "suppression", 0)
	if err != nil {
		return nil, fmt.Errorf("listing suppressions: %w", err)
	}
	now := d.now()
	out := make([]types.Suppression, 0, len(items))
	for _, it := range items {
		var s types.Suppression
		if err := json.Unmarshal([]byte(it.Data), &s); err != nil {
			d.logger.Warn("store: skipping corrupt suppression data", "pk", it.PK, "error", err)
			continue
		}
		if s.Active(now) {
			out = append(out, s)
		}
	}
	return out, nil
}

// DeleteSuppression removes a suppression.
func (d *DynamoDB) DeleteSuppression(ctx context.Context, key string) error {
	return d.delete(ctx, prefixSuppression+key, skSuppression)
}

// Ping checks connectivity by describing the table.
func (d *DynamoDB) Ping(ctx context.Context) error {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: &d.tableName,
	})
	if err != nil {
		return fmt.Errorf("dynamodb ping failed: %w", err)
	}
	return nil
}

// Close is a no-op for DynamoDB (no persistent connections to close).
func (d *DynamoDB) Close() error { return nil }
