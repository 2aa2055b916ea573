package bulletin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	rec    Record
	hashes []string
}

func (f *fakeRepo) CurrentDraft(ctx context.Context) (Record, error) { return f.rec, nil }
func (f *fakeRepo) ContentHashes(ctx context.Context, id int64) ([]string, error) {
	return f.hashes, nil
}
func (f *fakeRepo) SaveProposed(ctx context.Context, id int64, payloadHash string) error {
	f.rec.Status = StatusProposed
	f.rec.PayloadHash = payloadHash
	return nil
}
func (f *fakeRepo) SaveSubmitted(ctx context.Context, id int64, rawTx, txHash string, submittedAt time.Time) error {
	f.rec.Status = StatusSubmitted
	f.rec.RawTx = rawTx
	f.rec.TxHash = txHash
	f.rec.SubmittedAt = &submittedAt
	return nil
}
func (f *fakeRepo) SavePublished(ctx context.Context, id int64, blockHash string, blockTime time.Time) error {
	f.rec.Status = StatusPublished
	f.rec.BlockHash = blockHash
	f.rec.BlockTime = &blockTime
	return nil
}
func (f *fakeRepo) SaveResubmit(ctx context.Context, id int64, rawTx, txHash string) error {
	f.rec.RawTx = rawTx
	f.rec.TxHash = txHash
	return nil
}
func (f *fakeRepo) SaveBump(ctx context.Context, id int64, bump Bump) error {
	f.rec.Bumps = append(f.rec.Bumps, bump)
	return nil
}

func TestBuildPayloadSortsDedupsAndJoins(t *testing.T) {
	got := BuildPayload([]string{"bb", "aa", "bb", " AA "})
	assert.Equal(t, "aa\nbb", got)
}

func TestBuildPayloadEmpty(t *testing.T) {
	assert.Equal(t, "", BuildPayload(nil))
	assert.Equal(t, "", BuildPayload([]string{" ", ""}))
}

func TestProposeRejectsYoungDraft(t *testing.T) {
	repo := &fakeRepo{rec: Record{ID: 1, Status: StatusDraft, StartedAt: time.Now()}}
	svc := NewService(repo, time.Hour, 20*time.Minute, 2)

	d, err := svc.CurrentDraft(context.Background())
	require.NoError(t, err)

	_, err = svc.Propose(context.Background(), d)
	require.Error(t, err)
}

func TestProposeRejectsEmptyPayload(t *testing.T) {
	repo := &fakeRepo{rec: Record{ID: 1, Status: StatusDraft, StartedAt: time.Now().Add(-2 * time.Hour)}}
	svc := NewService(repo, time.Hour, 20*time.Minute, 2)

	d, err := svc.CurrentDraft(context.Background())
	require.NoError(t, err)

	_, err = svc.Propose(context.Background(), d)
	require.Error(t, err)
}

func TestFullLifecycle(t *testing.T) {
	repo := &fakeRepo{
		rec:    Record{ID: 7, Status: StatusDraft, StartedAt: time.Now().Add(-2 * time.Hour)},
		hashes: []string{"deadbeef", "cafef00d"},
	}
	svc := NewService(repo, time.Hour, 20*time.Minute, 2)

	d, err := svc.CurrentDraft(context.Background())
	require.NoError(t, err)

	p, err := svc.Propose(context.Background(), d)
	require.NoError(t, err)
	assert.NotEmpty(t, p.Record().PayloadHash)

	sub, err := svc.Submit(context.Background(), p, "rawtx1", "txhash1")
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, sub.Record().Status)

	_, err = svc.Publish(context.Background(), sub, "block1", time.Now(), 1)
	require.Error(t, err, "one confirmation is not enough")

	pub, err := svc.Publish(context.Background(), sub, "block1", time.Now(), 6)
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, pub.Record().Status)
}

func TestBumpFeeRateIncreasesByTenPercentSteps(t *testing.T) {
	sub := Submitted{rec: Record{ID: 1}}
	first := NextBumpFeeRate(sub, 10)
	assert.InDelta(t, 11.0, first, 0.0001)

	sub.rec.Bumps = append(sub.rec.Bumps, Bump{Counter: 1})
	second := NextBumpFeeRate(sub, 10)
	assert.InDelta(t, 12.0, second, 0.0001)
}

func TestBumpCapEnforced(t *testing.T) {
	repo := &fakeRepo{rec: Record{
		ID:          1,
		Status:      StatusSubmitted,
		SubmittedAt: timePtr(time.Now().Add(-time.Hour)),
	}}
	svc := NewService(repo, time.Hour, 20*time.Minute, 2)

	sub, err := asSubmitted(repo.rec)
	require.NoError(t, err)

	sub, err = svc.Bump(context.Background(), sub, "tx2", "hash2")
	require.NoError(t, err)
	sub, err = svc.Bump(context.Background(), sub, "tx3", "hash3")
	require.NoError(t, err)

	_, err = svc.Bump(context.Background(), sub, "tx4", "hash4")
	require.Error(t, err, "third bump should exceed the cap")
}

func TestNeedsBumpRespectsInterval(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo, time.Hour, 20*time.Minute, 2)

	fresh := Submitted{rec: Record{SubmittedAt: timePtr(time.Now())}}
	assert.False(t, svc.NeedsBump(fresh))

	stale := Submitted{rec: Record{SubmittedAt: timePtr(time.Now().Add(-30 * time.Minute))}}
	assert.True(t, svc.NeedsBump(stale))
}

func timePtr(t time.Time) *time.Time { return &t }
