package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"trade-ledger/internal/models"
	"trade-ledger/internal/util"
)

// Sequence names one prefixed ID space: a table, its ID column and the prefix.
type Sequence struct {
	Table  string
	Column string
	Prefix string
}

// Ledger ID spaces. Table and column names are constants, never caller input.
var (
	ProductSeq = Sequence{Table: "product", Column: "product_id", Prefix: "P_"}
	TradeSeq   = Sequence{Table: "trading", Column: "trade_id", Prefix: "T_"}
	WalletSeq  = Sequence{Table: "wallet", Column: "wallet_id", Prefix: "w_"}
	ResumeSeq  = Sequence{Table: "resume", Column: "resume_id", Prefix: "R_"}
	TaskSeq    = Sequence{Table: "resume", Column: "task_id", Prefix: "T_"}
)

// IDWidth is the zero-padded width of the numeric suffix.
const IDWidth = 3

// FormatID renders prefix + zero-padded n. Numbers wider than IDWidth are not truncated.
func FormatID(prefix string, n int) string {
	return fmt.Sprintf("%s%0*d", prefix, IDWidth, n)
}

// ParseID extracts the numeric suffix of id, reporting false when id does not
// belong to prefix.
func ParseID(prefix, id string) (int, bool) {
	if !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(id[len(prefix):])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// NextID allocates one ID in seq.
func (t *Tx) NextID(ctx context.Context, seq Sequence) (string, error) {
	ids, err := t.NextIDs(ctx, seq, 1)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// NextIDs reserves n consecutive IDs starting at max+1. The table stays
// exclusively locked until the enclosing transaction ends, so concurrent
// allocators queue behind it instead of computing the same number.
func (t *Tx) NextIDs(ctx context.Context, seq Sequence, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: id batch size must be positive", models.ErrValidation)
	}

	start := time.Now()
	defer func() {
		util.SequenceAllocLatency.WithLabelValues(seq.Table).Observe(time.Since(start).Seconds())
	}()

	if _, err := t.tx.ExecContext(ctx, fmt.Sprintf("LOCK TABLE %s IN EXCLUSIVE MODE", seq.Table)); err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", seq.Table, err)
	}

	// Numeric cast, not lexicographic order: P_010 sorts after P_009 and P_1000 after P_999.
	query := fmt.Sprintf(`
		SELECT COALESCE(MAX(CAST(SUBSTRING(%[1]s FROM %[2]d) AS INTEGER)), 0)
		FROM %[3]s
		WHERE %[1]s ~ $1`, seq.Column, len(seq.Prefix)+1, seq.Table)

	var last int
	if err := t.tx.GetContext(ctx, &last, query, "^"+seq.Prefix+"[0-9]+$"); err != nil {
		return nil, fmt.Errorf("failed to read last %s: %w", seq.Column, err)
	}

	ids := make([]string, n)
	for i := range ids {
		ids[i] = FormatID(seq.Prefix, last+1+i)
	}
	return ids, nil
}
