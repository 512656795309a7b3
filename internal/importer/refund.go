package importer

import (
	"strings"

	"faturo.org/internal/ledger"
)

// refundScoreThreshold gates medium-confidence refund matches.
const refundScoreThreshold = 0.80

type refundMatch struct {
	purchase   ledger.Purchase
	confidence float64
	method     string // "bank-id" or "fuzzy"
}

// matchRefund pairs a possible refund row with a prior purchase. Best effort:
// a shared raw bank transaction identifier prefix is taken as high
// confidence; otherwise description containment plus amount proximity is
// scored and threshold-gated. A nil match means the refund imports as plain
// income.
func matchRefund(tx ledger.Tx, userID int64, ir indexedRow) (*refundMatch, error) {
	purchases, err := tx.PurchasesByUser(userID)
	if err != nil {
		return nil, err
	}

	if prefix := bankTxPrefix(ir.row.BankTxID); prefix != "" {
		for _, p := range purchases {
			if bankTxPrefix(p.BankTxID) == prefix {
				return &refundMatch{purchase: p, confidence: 1.0, method: "bank-id"}, nil
			}
		}
	}

	needle := normalize(ir.row.Description)
	if needle == "" {
		return nil, nil
	}
	var best *refundMatch
	for _, p := range purchases {
		desc := normalize(p.Description)
		if desc == "" {
			continue
		}
		if !strings.Contains(desc, needle) && !strings.Contains(needle, desc) {
			continue
		}
		score := amountProximity(ir.minor, p.TotalAmount)
		if score < refundScoreThreshold {
			continue
		}
		if best == nil || score > best.confidence {
			best = &refundMatch{purchase: p, confidence: score, method: "fuzzy"}
		}
	}
	return best, nil
}

// bankTxPrefix is the raw bank id up to its last dash. Refund records at most
// banks reuse the original transaction's prefix with a different suffix.
func bankTxPrefix(id string) string {
	i := strings.LastIndex(id, "-")
	if i <= 0 {
		return ""
	}
	return id[:i]
}

// amountProximity scores how close two amounts are as min/max, in [0, 1].
func amountProximity(a, b int64) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > b {
		a, b = b, a
	}
	return float64(a) / float64(b)
}
