package redash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"powerfeed/internal/domain"
	"powerfeed/internal/infra/httpclient"
	"powerfeed/internal/infra/metrics"
)

// Source читает выгрузку ответов из сохранённого запроса Redash.
type Source struct {
	client   *httpclient.Client
	validate *validator.Validate
	logger   zerolog.Logger
}

// New создаёт источник. queryURL: полный URL результатов запроса вместе с api_key.
func New(queryURL string, logger zerolog.Logger, opts ...httpclient.Option) (*Source, error) {
	client, err := httpclient.New("redash", queryURL, opts...)
	if err != nil {
		return nil, err
	}
	return &Source{
		client:   client,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With().Str("component", "redash").Logger(),
	}, nil
}

type queryResultResponse struct {
	QueryResult struct {
		Data struct {
			Rows []json.RawMessage `json:"rows"`
		} `json:"data"`
	} `json:"query_result"`
}

type replyRow struct {
	CastFid               flexInt `json:"cast_fid"`
	CastHash              string  `json:"cast_hash" validate:"required"`
	CastTimestamp         string  `json:"cast_timestamp" validate:"required"`
	OriginalCastHash      string  `json:"original_cast_hash" validate:"required"`
	OriginalCastTimestamp string  `json:"original_cast_timestamp"`
	ReplyFromFid          flexInt `json:"reply_from_fid" validate:"gt=0"`
	ReplyToFid            flexInt `json:"reply_to_fid" validate:"gt=0"`
	ReactionGiverUsername string  `json:"reaction_giver_username"`
	ReplyText             string  `json:"reply_text"`
	CastLink              string  `json:"cast_link"`
}

// FetchReplies скачивает выгрузку и оставляет строки с since < cast_timestamp <= until.
// Нулевой since снимает нижнюю границу. Битые строки пропускаются.
func (s *Source) FetchReplies(ctx context.Context, since, until time.Time) ([]domain.ReplyEvent, error) {
	var resp queryResultResponse
	if err := s.client.Get(ctx, "fetch_replies", "", nil, &resp); err != nil {
		return nil, fmt.Errorf("выгрузка redash: %w", err)
	}

	events := make([]domain.ReplyEvent, 0, len(resp.QueryResult.Data.Rows))
	for i, raw := range resp.QueryResult.Data.Rows {
		event, err := s.parseRow(raw)
		if err != nil {
			metrics.IncMalformed()
			s.logger.Warn().Err(err).Int("row", i).Msg("redash: skip malformed row")
			continue
		}
		if !since.IsZero() && !event.CastTimestamp.After(since) {
			continue
		}
		if !until.IsZero() && event.CastTimestamp.After(until) {
			continue
		}
		events = append(events, event)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].CastTimestamp.Before(events[j].CastTimestamp) })

	s.logger.Debug().Int("rows", len(resp.QueryResult.Data.Rows)).Int("events", len(events)).Msg("redash: replies fetched")
	return events, nil
}

func (s *Source) parseRow(raw json.RawMessage) (domain.ReplyEvent, error) {
	var row replyRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return domain.ReplyEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if err := s.validate.Struct(row); err != nil {
		return domain.ReplyEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	castTS, err := parseTimestamp(row.CastTimestamp)
	if err != nil {
		return domain.ReplyEvent{}, fmt.Errorf("%w: cast_timestamp: %v", domain.ErrMalformedEvent, err)
	}
	var originalTS time.Time
	if row.OriginalCastTimestamp != "" {
		originalTS, err = parseTimestamp(row.OriginalCastTimestamp)
		if err != nil {
			return domain.ReplyEvent{}, fmt.Errorf("%w: original_cast_timestamp: %v", domain.ErrMalformedEvent, err)
		}
	}
	return domain.ReplyEvent{
		CastFid:               int64(row.CastFid),
		CastHash:              row.CastHash,
		CastTimestamp:         castTS,
		OriginalCastHash:      row.OriginalCastHash,
		OriginalCastTimestamp: originalTS,
		ReplyFromFid:          int64(row.ReplyFromFid),
		ReplyToFid:            int64(row.ReplyToFid),
		ReactionGiverUsername: row.ReactionGiverUsername,
		ReplyText:             row.ReplyText,
		CastLink:              row.CastLink,
	}, nil
}

// Redash отдаёт время как с зоной, так и без. Время без зоны считается UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", value)
}

// flexInt принимает fid и числом, и строкой.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = 0
		return nil
	}
	text := strings.Trim(string(data), `"`)
	if text == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		fl, ferr := strconv.ParseFloat(text, 64)
		if ferr != nil || fl != float64(int64(fl)) {
			return errors.New("fid is not an integer: " + text)
		}
		n = int64(fl)
	}
	*f = flexInt(n)
	return nil
}
