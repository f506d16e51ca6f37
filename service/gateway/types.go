package gateway

import "time"

// maxMemoBytes is the largest memo the Memo program accepts in a single
// transaction.
const maxMemoBytes = 566

// TransferRequest describes an intended payment from a sender wallet to a
// recipient wallet in a single token.
type TransferRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	TokenID   string `json:"token"`  // SOL, MILTON, USDC, or a mint address
	Amount    string `json:"amount"` // human units, decimal string
	Memo      string `json:"memo,omitempty"`
}

// PurchaseRequest describes an intended MILTON purchase: the buyer pays the
// treasury in SOL or USDC and receives MILTON from the treasury in the same
// transaction.
type PurchaseRequest struct {
	Buyer          string `json:"buyer"`
	PaymentTokenID string `json:"payment_token"`  // SOL or USDC
	PaymentAmount  string `json:"payment_amount"` // human units
	MiltonAmount   string `json:"milton_amount"`  // human units
	SlippageBps    int64  `json:"slippage_bps"`   // tolerated deviation, basis points
	Memo           string `json:"memo,omitempty"`
}

// BuildResult is returned for a successfully built unsigned transaction.
type BuildResult struct {
	TransactionID       string    `json:"transaction_id"`
	UnsignedTransaction string    `json:"unsigned_transaction"` // base64 wire format
	FeeLamports         uint64    `json:"fee_lamports"`
	ExpiresAt           time.Time `json:"expires_at"`
	Amount              int64     `json:"amount"`       // base units
	HumanAmount         string    `json:"human_amount"` // as requested
}

// SubmitRequest carries a signed transaction back for submission.
type SubmitRequest struct {
	SignedTransaction string `json:"signed_transaction"` // base64 wire format
}

// SubmitResult reports the outcome of a submission or a status check.
type SubmitResult struct {
	TransactionID string     `json:"transaction_id"`
	Status        string     `json:"status"`
	Signature     string     `json:"signature,omitempty"`
	FailReason    string     `json:"fail_reason,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
