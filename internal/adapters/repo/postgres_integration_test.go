//go:build integration_pg

package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"powerfeed/internal/domain"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_DB":       "powerfeed",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		).WithDeadline(2 * time.Minute),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		cancel()
		t.Fatalf("запуск postgres: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(context.Background())
		cancel()
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/powerfeed?sslmode=disable", host, port.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresIntegration(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	pg := NewPostgres(pool)

	if err := pg.Migrate(ctx, zerolog.Nop()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := pg.Migrate(ctx, zerolog.Nop()); err != nil {
		t.Fatalf("повторная миграция: %v", err)
	}

	if _, ok, err := pg.LatestAccepted(ctx); err != nil || ok {
		t.Fatalf("пустая таблица: ok=%v err=%v", ok, err)
	}

	base := time.Date(2024, 6, 7, 17, 0, 0, 0, time.UTC)
	rows := []domain.ReplyEvent{
		{CastFid: 2, CastHash: "b", CastTimestamp: base, OriginalCastHash: "o1", ReplyFromFid: 1, ReplyToFid: 2, ReplyText: "⚡"},
		{CastFid: 2, CastHash: "a", CastTimestamp: base, OriginalCastHash: "o2", ReplyFromFid: 1, ReplyToFid: 2, ReplyText: "⚡"},
		{CastFid: 1, CastHash: "c", CastTimestamp: base.Add(time.Minute), OriginalCastHash: "o3", ReplyFromFid: 3, ReplyToFid: 1, ReplyText: "⚡"},
	}
	n, err := pg.InsertFiltered(ctx, rows)
	if err != nil || n != 3 {
		t.Fatalf("InsertFiltered: n=%d err=%v", n, err)
	}
	n, err = pg.InsertFiltered(ctx, rows)
	if err != nil || n != 0 {
		t.Fatalf("повторная вставка должна быть no-op: n=%d err=%v", n, err)
	}
	if n, err := pg.ArchiveRaw(ctx, rows); err != nil || n != 3 {
		t.Fatalf("ArchiveRaw: n=%d err=%v", n, err)
	}

	good := domain.ReplyEvent{CastFid: 4, CastHash: "d", CastTimestamp: base, OriginalCastHash: "o4", ReplyFromFid: 5, ReplyToFid: 4, ReplyText: "⚡"}
	bad := domain.ReplyEvent{CastFid: 4, CastHash: "e", CastTimestamp: base, OriginalCastHash: "o5", ReplyFromFid: 5, ReplyToFid: 4, ReplyText: "bad\x00text"}
	if n, err := pg.ArchiveRaw(ctx, []domain.ReplyEvent{good, bad}); err == nil || n != 0 {
		t.Fatalf("пачка с ошибкой откатывается целиком: n=%d err=%v", n, err)
	}
	if n, err := pg.ArchiveRaw(ctx, []domain.ReplyEvent{good}); err != nil || n != 1 {
		t.Fatalf("строка из откаченной пачки не должна сохраниться: n=%d err=%v", n, err)
	}

	latest, ok, err := pg.LatestAccepted(ctx)
	if err != nil || !ok || !latest.Equal(base.Add(time.Minute)) {
		t.Fatalf("LatestAccepted = %s %v %v", latest, ok, err)
	}

	page, err := pg.ListAcceptedAfter(ctx, domain.ReactionCursor{}, 2)
	if err != nil || len(page) != 2 || page[0].CastHash != "a" || page[1].CastHash != "b" {
		t.Fatalf("первая страница: %+v err=%v", page, err)
	}
	page, err = pg.ListAcceptedAfter(ctx, domain.ReactionCursor{Timestamp: page[1].CastTimestamp, CastHash: page[1].CastHash}, 2)
	if err != nil || len(page) != 1 || page[0].CastHash != "c" {
		t.Fatalf("вторая страница: %+v err=%v", page, err)
	}

	scores := pg.Scores()
	one := 4.0
	inserted, err := scores.Insert(ctx, domain.UserScoreRecord{Fid: 1, Username: "alice", PrimaryScore: &one, AccessToken: "tok-1"})
	if err != nil || !inserted {
		t.Fatalf("Insert: %v %v", inserted, err)
	}
	inserted, err = scores.Insert(ctx, domain.UserScoreRecord{Fid: 1, Username: "again", AccessToken: "tok-2"})
	if err != nil || inserted {
		t.Fatalf("конфликт по fid: %v %v", inserted, err)
	}
	rec, err := scores.Get(ctx, 1)
	if err != nil || rec.Username != "alice" || rec.SecondaryScore != nil {
		t.Fatalf("Get: %+v %v", rec, err)
	}
	if _, err := scores.Get(ctx, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}

	unknown, err := pg.ListUnknownFids(ctx)
	if err != nil || len(unknown) != 2 || unknown[0] != 2 || unknown[1] != 3 {
		t.Fatalf("ListUnknownFids = %v err=%v", unknown, err)
	}

	ledger := pg.Ledger()
	for i, points := range []int64{50, 50, 30} {
		fid := int64(i + 1)
		if err := ledger.Insert(ctx, domain.PointsLedgerEntry{Fid: fid, Points: points, AccessToken: fmt.Sprintf("l-%d", fid)}); err != nil {
			t.Fatalf("ledger Insert: %v", err)
		}
	}
	if err := ledger.Insert(ctx, domain.PointsLedgerEntry{Fid: 1, Points: 1, AccessToken: "dup"}); err != nil {
		t.Fatalf("гонка вставки должна быть no-op: %v", err)
	}
	if err := ledger.Update(ctx, domain.PointsLedgerEntry{Fid: 3, Points: 30, ReactionsSent: 1, AccessToken: "l-3b"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	pts, err := ledger.ListPoints(ctx)
	if err != nil || len(pts) != 3 {
		t.Fatalf("ListPoints: %v %v", pts, err)
	}
	updates := make([]domain.RankUpdate, 0, len(pts))
	for _, p := range pts {
		rank := int64(1)
		if p.Points == 30 {
			rank = 3
		}
		updates = append(updates, domain.RankUpdate{ID: p.ID, Rank: rank})
	}
	if err := ledger.WriteRanks(ctx, updates); err != nil {
		t.Fatalf("WriteRanks: %v", err)
	}
	board, err := ledger.Leaderboard(ctx, 10, 0)
	if err != nil || len(board) != 3 || board[2].Fid != 3 || board[2].Rank != 3 {
		t.Fatalf("Leaderboard: %+v %v", board, err)
	}
	entry, err := ledger.GetByToken(ctx, "l-3b")
	if err != nil || entry.Fid != 3 || entry.ReactionsSent != 1 {
		t.Fatalf("GetByToken: %+v %v", entry, err)
	}
	if _, err := ledger.GetByFid(ctx, 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ожидали ErrNotFound, получили %v", err)
	}
}
