package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aevon-lab/insight/internal/core/model"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
)

const defaultAthenaPollInterval = 500 * time.Millisecond

// athenaAPI is the subset of the Athena client the connection uses.
type athenaAPI interface {
	StartQueryExecution(ctx context.Context, in *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, in *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, in *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
	StopQueryExecution(ctx context.Context, in *athena.StopQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error)
}

// AthenaConnection runs queries through the Athena query execution API.
// Athena has no bind parameters, so queries must arrive with inlined literals.
type AthenaConnection struct {
	client       athenaAPI
	catalog      string
	database     string
	workgroup    string
	outputDir    string
	pollInterval time.Duration
}

func openAthena(_ context.Context, cfg model.ConnectionConfig, _ Settings) (Connection, error) {
	region := cfg.Param("region", "")
	if region == "" {
		return nil, fmt.Errorf("athena connection requires the region param")
	}
	secret, err := cfg.ResolveSecret()
	if err != nil {
		return nil, err
	}

	opts := athena.Options{Region: region}
	if cfg.User != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.User, secret, "")
	}
	if endpoint := cfg.Param("endpoint", ""); endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
	}

	poll := defaultAthenaPollInterval
	if raw := cfg.Param("poll_interval", ""); raw != "" {
		if poll, err = time.ParseDuration(raw); err != nil {
			return nil, fmt.Errorf("invalid athena poll_interval %q: %w", raw, err)
		}
	}

	conn := newAthenaConnection(athena.New(opts), cfg)
	conn.pollInterval = poll
	slog.Info("[Pool] Athena client configured", "region", region, "workgroup", conn.workgroup)
	return conn, nil
}

func newAthenaConnection(client athenaAPI, cfg model.ConnectionConfig) *AthenaConnection {
	catalog := cfg.Catalog
	if catalog == "" {
		catalog = "AwsDataCatalog"
	}
	return &AthenaConnection{
		client:       client,
		catalog:      catalog,
		database:     cfg.Schema,
		workgroup:    cfg.Param("workgroup", "primary"),
		outputDir:    cfg.Param("s3_staging_dir", ""),
		pollInterval: defaultAthenaPollInterval,
	}
}

func (c *AthenaConnection) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	if len(args) > 0 {
		return nil, errors.New("athena does not support bind parameters")
	}

	in := &athena.StartQueryExecutionInput{
		QueryString: aws.String(query),
		QueryExecutionContext: &types.QueryExecutionContext{
			Catalog: aws.String(c.catalog),
		},
		WorkGroup: aws.String(c.workgroup),
	}
	if c.database != "" {
		in.QueryExecutionContext.Database = aws.String(c.database)
	}
	if c.outputDir != "" {
		in.ResultConfiguration = &types.ResultConfiguration{OutputLocation: aws.String(c.outputDir)}
	}

	started, err := c.client.StartQueryExecution(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to start athena query: %w", err)
	}
	id := started.QueryExecutionId

	if err := c.wait(ctx, id); err != nil {
		return nil, err
	}
	return c.fetch(ctx, id)
}

// wait polls until the execution finishes. Cancelling ctx stops the query.
func (c *AthenaConnection) wait(ctx context.Context, id *string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		out, err := c.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{QueryExecutionId: id})
		if err != nil {
			return fmt.Errorf("failed to poll athena query %s: %w", aws.ToString(id), err)
		}
		status := out.QueryExecution.Status
		switch status.State {
		case types.QueryExecutionStateSucceeded:
			return nil
		case types.QueryExecutionStateFailed, types.QueryExecutionStateCancelled:
			return fmt.Errorf("athena query %s %s: %s", aws.ToString(id), strings.ToLower(string(status.State)), aws.ToString(status.StateChangeReason))
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := c.client.StopQueryExecution(stopCtx, &athena.StopQueryExecutionInput{QueryExecutionId: id}); err != nil {
				slog.Warn("[Pool] Failed to stop athena query", "query_execution_id", aws.ToString(id), "error", err)
			}
			return ctx.Err()
		}
	}
}

func (c *AthenaConnection) fetch(ctx context.Context, id *string) (*Result, error) {
	result := &Result{}
	var (
		colTypes  []string
		nextToken *string
		first     = true
	)
	for {
		out, err := c.client.GetQueryResults(ctx, &athena.GetQueryResultsInput{
			QueryExecutionId: id,
			NextToken:        nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch athena results: %w", err)
		}
		rows := out.ResultSet.Rows
		if first {
			for _, col := range out.ResultSet.ResultSetMetadata.ColumnInfo {
				result.Columns = append(result.Columns, aws.ToString(col.Name))
				colTypes = append(colTypes, strings.ToLower(aws.ToString(col.Type)))
			}
			// the first row of the first page repeats the column names
			if len(rows) > 0 {
				rows = rows[1:]
			}
			first = false
		}
		for _, row := range rows {
			values := make([]any, len(result.Columns))
			for i := range values {
				if i < len(row.Data) && row.Data[i].VarCharValue != nil {
					values[i] = parseAthenaValue(*row.Data[i].VarCharValue, colTypes[i])
				}
			}
			result.Rows = append(result.Rows, values)
		}
		if out.NextToken == nil {
			return result, nil
		}
		nextToken = out.NextToken
	}
}

func parseAthenaValue(raw, typ string) any {
	switch {
	case typ == "bigint" || typ == "integer" || typ == "smallint" || typ == "tinyint":
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	case typ == "double" || typ == "float" || typ == "real" || strings.HasPrefix(typ, "decimal"):
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case typ == "boolean":
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	case strings.HasPrefix(typ, "timestamp"):
		if t, err := time.Parse("2006-01-02 15:04:05.999", raw); err == nil {
			return t
		}
	}
	return raw
}

func (c *AthenaConnection) Ping(ctx context.Context) error {
	_, err := c.Query(ctx, "SELECT 1")
	return err
}

func (c *AthenaConnection) Close() error { return nil }
