package drift

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// DefaultArchiveURLPrefix is the public bucket holding per-day historical
// record CSVs.
const DefaultArchiveURLPrefix = "https://drift-historical-data-v2.s3.eu-west-1.amazonaws.com/program/"

// The archive lags the chain; files newer than this never exist.
const archiveLagDays = 2

// SettlePnlRecord is one realized-pnl settlement row from the archive.
// See https://docs.drift.trade/historical-data/historical-data-glossary#settle-pnl
type SettlePnlRecord struct {
	Pnl                    decimal.Decimal
	User                   string
	BaseAssetAmount        decimal.Decimal
	QuoteAssetAmountAfter  decimal.Decimal
	QuoteEntryAmountBefore decimal.Decimal
	SettlePrice            decimal.Decimal
	TxSig                  string
	Slot                   uint64
	Ts                     int64
	MarketIndex            uint16
	Explanation            string
	ProgramID              string
}

// HistoryClient reads the historical archive over HTTPS.
type HistoryClient struct {
	http   *http.Client
	prefix string
	logger *slog.Logger
}

func NewHistoryClient(logger *slog.Logger) *HistoryClient {
	return &HistoryClient{
		http:   &http.Client{Timeout: 30 * time.Second},
		prefix: DefaultArchiveURLPrefix,
		logger: logger,
	}
}

// WithArchivePrefix points the client at a different bucket, used in tests.
func (c *HistoryClient) WithArchivePrefix(prefix string) *HistoryClient {
	c.prefix = prefix
	return c
}

// SettlePnl fetches up to daysBack days of settle-pnl rows for one user,
// oldest first by ts. Days the archive has no file for are skipped.
func (c *HistoryClient) SettlePnl(ctx context.Context, programID solana.PublicKey, user solana.PublicKey, daysBack int) ([]SettlePnlRecord, error) {
	end := time.Now().UTC().AddDate(0, 0, -archiveLagDays)

	var records []SettlePnlRecord
	for i := 0; i < daysBack; i++ {
		date := end.AddDate(0, 0, -i)
		url := fmt.Sprintf("%s%s/user/%s/settlePnlRecords/%d/%s",
			c.prefix, programID, user, date.Year(), date.Format("20060102"))

		rows, err := c.fetchDay(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("fetch settle pnl for %s: %w", date.Format("2006-01-02"), err)
		}
		records = append(records, rows...)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Ts < records[j].Ts })
	return records, nil
}

func (c *HistoryClient) fetchDay(ctx context.Context, url string) ([]SettlePnlRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", "gzip")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		// missing days come back 403 from the bucket
		if res.StatusCode != http.StatusForbidden {
			c.logger.Error("historical archive fetch failed", "url", url, "status", res.StatusCode)
		}
		return nil, nil
	}

	body := res.Body
	if strings.Contains(res.Header.Get("Content-Encoding"), "gzip") ||
		strings.HasSuffix(url, ".gz") || res.Header.Get("Content-Type") == "application/x-gzip" {
		gz, err := gzip.NewReader(res.Body)
		if err != nil {
			return nil, fmt.Errorf("open gzip body: %w", err)
		}
		defer gz.Close()
		body = gz
	}

	return ParseSettlePnlCSV(body)
}

// ParseSettlePnlCSV decodes archive rows from a headered CSV stream.
func ParseSettlePnlCSV(r io.Reader) ([]SettlePnlRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}

	var out []SettlePnlRecord
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", line, err)
		}
		record, err := settlePnlFromRow(columns, row)
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w", line, err)
		}
		out = append(out, record)
	}
	return out, nil
}

func settlePnlFromRow(columns map[string]int, row []string) (SettlePnlRecord, error) {
	field := func(name string) string {
		index, ok := columns[name]
		if !ok || index >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[index])
	}
	dec := func(name string) (decimal.Decimal, error) {
		raw := field(name)
		if raw == "" {
			return decimal.Zero, nil
		}
		value, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("column %s: %w", name, err)
		}
		return value, nil
	}

	var record SettlePnlRecord
	var err error
	if record.Pnl, err = dec("pnl"); err != nil {
		return record, err
	}
	if record.BaseAssetAmount, err = dec("baseAssetAmount"); err != nil {
		return record, err
	}
	if record.QuoteAssetAmountAfter, err = dec("quoteAssetAmountAfter"); err != nil {
		return record, err
	}
	if record.QuoteEntryAmountBefore, err = dec("quoteEntryAmountBefore"); err != nil {
		return record, err
	}
	if record.SettlePrice, err = dec("settlePrice"); err != nil {
		return record, err
	}
	record.User = field("user")
	record.TxSig = field("txSig")
	record.Explanation = field("explanation")
	record.ProgramID = field("programId")

	if raw := field("slot"); raw != "" {
		if record.Slot, err = strconv.ParseUint(raw, 10, 64); err != nil {
			return record, fmt.Errorf("column slot: %w", err)
		}
	}
	if raw := field("ts"); raw != "" {
		if record.Ts, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return record, fmt.Errorf("column ts: %w", err)
		}
	}
	if raw := field("marketIndex"); raw != "" {
		index, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			return record, fmt.Errorf("column marketIndex: %w", err)
		}
		record.MarketIndex = uint16(index)
	}
	return record, nil
}
