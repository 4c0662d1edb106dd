package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"mixrelay/internal/blockchain/evm"
	"mixrelay/internal/config"
	"mixrelay/internal/ledger"
	"mixrelay/internal/models"
	"mixrelay/internal/retry"
	"mixrelay/internal/service"
	"mixrelay/internal/signer"
)

const (
	defaultPollInterval = 2 * time.Second
	subscriberBuffer    = 16
)

// ErrCancelled marks a request the caller withdrew before broadcast
var ErrCancelled = errors.New("cancelled by caller")

// ChainClient is the narrow view of a chain RPC endpoint the engine needs.
// *evm.Client satisfies it; tests supply fakes.
type ChainClient interface {
	PendingNonceAt(ctx context.Context, address common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// SignerKey builds the lookup key for the proposal signer serving one
// contract on one chain.
func SignerKey(chainID, contract string) string {
	return chainID + ":" + strings.ToLower(contract)
}

// task tracks one in-flight relay request
type task struct {
	cancel      context.CancelFunc
	subscribers []chan models.StatusEvent
	broadcast   bool // past the point of no return; cancellation only detaches
}

// Engine drives relay requests from Queued to a terminal state. One
// goroutine per in-flight request; nonce allocation in the account manager
// is the single serialization point per chain.
type Engine struct {
	cfg      *config.Config
	ledger   *ledger.Ledger
	accounts *evm.AccountManager
	clients  map[string]ChainClient
	signers  map[string]signer.ProposalSigner
	fees     *service.FeeService
	policy   retry.Policy
	builder  *txBuilder
	logger   *zap.Logger

	pollInterval time.Duration

	mu    sync.Mutex
	tasks map[string]*task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates the relay execution engine
func NewEngine(
	cfg *config.Config,
	ldg *ledger.Ledger,
	accounts *evm.AccountManager,
	clients map[string]ChainClient,
	signers map[string]signer.ProposalSigner,
	fees *service.FeeService,
	policy retry.Policy,
	logger *zap.Logger,
) (*Engine, error) {
	builder, err := newTxBuilder()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:          cfg,
		ledger:       ldg,
		accounts:     accounts,
		clients:      clients,
		signers:      signers,
		fees:         fees,
		policy:       policy,
		builder:      builder,
		logger:       logger.Named("engine"),
		pollInterval: defaultPollInterval,
		tasks:        make(map[string]*task),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Shutdown stops accepting work and waits for in-flight tasks
func (e *Engine) Shutdown(timeout time.Duration) {
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("Engine stopped gracefully")
	case <-time.After(timeout):
		e.logger.Warn("Engine shutdown timed out")
	}
}

// Submit accepts a relay request and returns its status stream. Submitting
// a fingerprint that is already in flight attaches a new subscriber to the
// existing work; a terminal fingerprint replays the stored record without
// re-executing any side effect.
func (e *Engine) Submit(req *models.RelayRequest) (<-chan models.StatusEvent, error) {
	if _, ok := e.clients[req.ChainID]; !ok {
		return nil, fmt.Errorf("chain %s is not served by this relayer", req.ChainID)
	}
	if _, ok := e.cfg.Contract(req.ChainID, req.Contract.Hex()); !ok {
		return nil, fmt.Errorf("contract %s is not served on chain %s", req.Contract.Hex(), req.ChainID)
	}

	fp := req.Fingerprint()

	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.tasks[fp]; ok {
		ch := make(chan models.StatusEvent, subscriberBuffer)
		t.subscribers = append(t.subscribers, ch)
		return ch, nil
	}

	existing, err := e.ledger.Get(fp)
	if err != nil {
		return nil, fmt.Errorf("failed to look up record: %w", err)
	}

	if existing != nil {
		if existing.Status.Terminal() {
			ch := make(chan models.StatusEvent, 1)
			ch <- eventFromRecord(existing)
			close(ch)
			return ch, nil
		}
		// Non-terminal record without a task: left over from a crash.
		// Resume it rather than re-executing from scratch.
		return e.launchLocked(existing), nil
	}

	now := time.Now().UTC()
	record := &models.RelayRecord{
		Fingerprint: fp,
		ChainID:     req.ChainID,
		Contract:    strings.ToLower(req.Contract.Hex()),
		Status:      models.RelayStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
		Request:     req,
	}
	if err := e.ledger.Put(record); err != nil {
		return nil, fmt.Errorf("failed to persist record: %w", err)
	}

	return e.launchLocked(record), nil
}

// Subscribe attaches an additional status stream to an in-flight
// fingerprint. Returns false when nothing is in flight; callers should
// query the ledger instead.
func (e *Engine) Subscribe(fingerprint string) (<-chan models.StatusEvent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[fingerprint]
	if !ok {
		return nil, false
	}
	ch := make(chan models.StatusEvent, subscriberBuffer)
	t.subscribers = append(t.subscribers, ch)
	return ch, true
}

// Cancel aborts a pending request. It only succeeds before the request is
// broadcast; after that the transaction is on the network and cancellation
// merely detaches subscribers.
func (e *Engine) Cancel(fingerprint string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[fingerprint]
	if !ok {
		return fmt.Errorf("no in-flight request for %s", fingerprint)
	}
	if t.broadcast {
		return fmt.Errorf("request %s already broadcast; cannot cancel", fingerprint)
	}
	t.cancel()
	return nil
}

// Resume replays every non-terminal ledger record after a restart. Each
// record continues from its persisted state; no on-chain side effect is
// duplicated because nonces and fingerprints are recovered with it.
func (e *Engine) Resume() (int, error) {
	pending, err := e.ledger.ScanPending()
	if err != nil {
		return 0, fmt.Errorf("failed to scan pending records: %w", err)
	}

	resumed := 0
	for _, record := range pending {
		if _, ok := e.clients[record.ChainID]; !ok || record.Request == nil {
			record.Status = models.RelayStatusRejected
			record.LastError = "unrecoverable after restart: chain no longer configured or request lost"
			record.UpdatedAt = time.Now().UTC()
			if err := e.ledger.Put(record); err != nil {
				e.logger.Error("Failed to reject unrecoverable record",
					zap.String("fingerprint", record.Fingerprint), zap.Error(err))
			}
			continue
		}

		if record.Nonce != nil {
			if err := e.accounts.AdoptNonce(record.ChainID, *record.Nonce); err != nil {
				e.logger.Error("Failed to adopt recovered nonce",
					zap.String("fingerprint", record.Fingerprint), zap.Error(err))
				continue
			}
		}

		e.mu.Lock()
		e.launchLocked(record)
		e.mu.Unlock()
		resumed++

		e.logger.Info("Resumed relay record",
			zap.String("fingerprint", record.Fingerprint),
			zap.String("status", string(record.Status)))
	}

	return resumed, nil
}

// launchLocked registers a task and starts its goroutine. Caller holds e.mu.
func (e *Engine) launchLocked(record *models.RelayRecord) <-chan models.StatusEvent {
	taskCtx, taskCancel := context.WithCancel(e.ctx)
	ch := make(chan models.StatusEvent, subscriberBuffer)
	t := &task{
		cancel:      taskCancel,
		subscribers: []chan models.StatusEvent{ch},
		broadcast:   record.Status == models.RelayStatusSubmitted,
	}
	e.tasks[record.Fingerprint] = t

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(taskCtx, record)
	}()

	return ch
}

// publish fans an event out to all subscribers of a fingerprint. Sends are
// non-blocking: a slow subscriber may miss progress events but the stream
// close on the terminal transition tells it to re-query the ledger.
func (e *Engine) publish(fingerprint string, event models.StatusEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[fingerprint]
	if !ok {
		return
	}
	for _, ch := range t.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// finish publishes the terminal event, closes all streams, and unregisters
// the task.
func (e *Engine) finish(fingerprint string, event models.StatusEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.tasks[fingerprint]
	if !ok {
		return
	}
	delete(e.tasks, fingerprint)
	for _, ch := range t.subscribers {
		select {
		case ch <- event:
		default:
		}
		close(ch)
	}
}

// beginBroadcast flags the task as past the point of no return, atomically
// with the cancellation check. Cancel holds the same mutex while it cancels
// the task context, so exactly one of the two wins: either the flag is set
// and Cancel refuses, or the cancellation landed first and this returns
// false with nothing broadcast.
func (e *Engine) beginBroadcast(fingerprint string, taskCtx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if taskCtx.Err() != nil {
		return false
	}
	if t, ok := e.tasks[fingerprint]; ok {
		t.broadcast = true
	}
	return true
}

func eventFromRecord(record *models.RelayRecord) models.StatusEvent {
	return models.StatusEvent{
		Fingerprint: record.Fingerprint,
		Status:      record.Status,
		TxHash:      record.TxHash,
		Error:       record.LastError,
	}
}

// transition persists the next state and then announces it. The write
// happens before the caller performs the side effect belonging to the new
// state, so a crash leaves at most one ambiguous step.
func (e *Engine) transition(record *models.RelayRecord, next models.RelayStatus) error {
	if !record.Status.CanAdvanceTo(next) {
		return fmt.Errorf("illegal transition %s -> %s for %s", record.Status, next, record.Fingerprint)
	}
	record.Status = next
	record.UpdatedAt = time.Now().UTC()

	if err := e.ledger.Put(record); err != nil {
		return fmt.Errorf("failed to persist %s transition: %w", next, err)
	}

	event := eventFromRecord(record)
	if next.Terminal() {
		e.finish(record.Fingerprint, event)
	} else {
		e.publish(record.Fingerprint, event)
	}
	return nil
}

// reject moves a record to REJECTED and compensates an unused nonce
func (e *Engine) reject(record *models.RelayRecord, cause error) {
	record.LastError = cause.Error()
	e.logger.Warn("Relay request rejected",
		zap.String("fingerprint", record.Fingerprint),
		zap.Error(cause))

	if record.Nonce != nil {
		if e.accounts.ReleaseNonce(record.ChainID, *record.Nonce) {
			record.Nonce = nil
		}
	}
	if err := e.transition(record, models.RelayStatusRejected); err != nil {
		e.logger.Error("Failed to record rejection", zap.Error(err))
		e.finish(record.Fingerprint, eventFromRecord(record))
	}
}

// fail moves a record to FAILED
func (e *Engine) fail(record *models.RelayRecord, cause error) {
	record.LastError = cause.Error()
	e.logger.Error("Relay request failed",
		zap.String("fingerprint", record.Fingerprint),
		zap.String("tx_hash", record.TxHash),
		zap.Error(cause))

	if err := e.transition(record, models.RelayStatusFailed); err != nil {
		e.logger.Error("Failed to record failure", zap.Error(err))
		e.finish(record.Fingerprint, eventFromRecord(record))
	}
}

// run drives one record from its current state to a terminal state
func (e *Engine) run(taskCtx context.Context, record *models.RelayRecord) {
	chain := e.cfg.Chains[record.ChainID]
	client := e.clients[record.ChainID]

	// Announce the state the stream starts from
	e.publish(record.Fingerprint, eventFromRecord(record))

	// Per-request wall clock ceiling, anchored at acceptance time so
	// resumed records do not get a fresh budget.
	runCtx, cancelRun := context.WithDeadline(e.ctx, record.CreatedAt.Add(chain.MaxRelayTime))
	defer cancelRun()

	resuming := record.Status == models.RelayStatusSigned || record.Status == models.RelayStatusSubmitted

	if record.Status == models.RelayStatusQueued {
		if err := e.validate(record); err != nil {
			e.reject(record, err)
			return
		}

		nonce, err := e.accounts.ReserveNonce(record.ChainID)
		if err != nil {
			e.reject(record, err)
			return
		}
		record.Nonce = &nonce
		// Persist the reservation before the nonce reaches any broadcast
		// path, so the crash ambiguity window is "did I broadcast", never
		// "did I reserve".
		if err := e.transition(record, models.RelayStatusNonceReserved); err != nil {
			e.logger.Error("Failed to persist nonce reservation", zap.Error(err))
			e.reject(record, err)
			return
		}
	}

	var signedTx *types.Transaction
	if record.Status == models.RelayStatusNonceReserved || record.Status == models.RelayStatusSigned {
		tx, err := e.prepare(taskCtx, record, nil)
		if err != nil {
			if e.ctx.Err() != nil {
				// Shutdown: leave the persisted state for restart resume
				return
			}
			if errors.Is(err, context.Canceled) {
				e.reject(record, ErrCancelled)
			} else if retry.IsPermanent(err) {
				e.reject(record, err)
			} else {
				e.fail(record, err)
			}
			return
		}
		signedTx = tx

		if record.Status == models.RelayStatusNonceReserved {
			record.TxHash = signedTx.Hash().Hex()
			if err := e.transition(record, models.RelayStatusSigned); err != nil {
				e.logger.Error("Failed to persist signed transition", zap.Error(err))
				e.reject(record, err)
				return
			}
		}

		// Last cancellation boundary: after this the transaction reaches
		// the network and cancelling only detaches subscribers. The check
		// and the broadcast flag are one critical section so Cancel can
		// never report success for a request that still broadcasts.
		if !e.beginBroadcast(record.Fingerprint, taskCtx) {
			if e.ctx.Err() == nil {
				e.reject(record, ErrCancelled)
				return
			}
			// Engine shutdown: leave the record in SIGNED for restart.
			return
		}

		if err := e.broadcast(runCtx, record, signedTx, resuming); err != nil {
			if e.ctx.Err() != nil {
				return
			}
			if retry.IsPermanent(err) {
				e.reject(record, err)
			} else {
				e.fail(record, fmt.Errorf("broadcast abandoned: %w", err))
			}
			return
		}
	}

	e.confirm(runCtx, record, client, signedTx)
}

// validate applies engine-boundary checks: input shape against the
// contract profile and the offered fee against fee policy. Proof
// correctness itself is the target chain's job.
func (e *Engine) validate(record *models.RelayRecord) error {
	profile, ok := e.cfg.Contract(record.ChainID, record.Contract)
	if !ok {
		return fmt.Errorf("contract %s is no longer served on chain %s", record.Contract, record.ChainID)
	}
	req := record.Request

	if err := validateInputs(req, profile); err != nil {
		return err
	}

	if profile.Kind == models.ContractKindAnchor {
		if err := e.fees.ValidateOfferedFee(record.ChainID, record.Contract, req.ExtData.FeeInt()); err != nil {
			return err
		}
		calc, err := e.fees.CalculateWithdrawFee(record.ChainID, record.Contract)
		if err != nil {
			return err
		}
		record.FeeWei = calc.Fee.String()
	}

	if profile.Kind.Privileged() {
		if _, ok := e.signers[SignerKey(record.ChainID, record.Contract)]; !ok {
			return fmt.Errorf("no proposal signer configured for %s on chain %s", record.Contract, record.ChainID)
		}
	}

	return nil
}

// prepare builds and signs the transaction for a record at its reserved
// nonce. A non-nil gasPrice forces the price (used for replacement
// transactions); otherwise the endpoint's suggestion is used.
func (e *Engine) prepare(ctx context.Context, record *models.RelayRecord, gasPrice *big.Int) (*types.Transaction, error) {
	chain := e.cfg.Chains[record.ChainID]
	client := e.clients[record.ChainID]
	profile, ok := e.cfg.Contract(record.ChainID, record.Contract)
	if !ok {
		return nil, fmt.Errorf("contract %s is no longer served on chain %s", record.Contract, record.ChainID)
	}
	req := record.Request

	if gasPrice == nil {
		var suggested *big.Int
		err := e.policy.Do(ctx, func() error {
			var err error
			suggested, err = client.SuggestGasPrice(ctx)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch gas price: %w", err)
		}
		gasPrice = suggested
	}

	var (
		data  []byte
		value = new(big.Int)
		err   error
	)
	switch {
	case profile.Kind.Privileged():
		sig, signErr := e.signProposal(ctx, record)
		if signErr != nil {
			return nil, signErr
		}
		data, err = e.builder.proposalCallData(req.Proof, sig)
	default:
		data, err = e.builder.withdrawCallData(req, profile)
		value = req.ExtData.RefundInt()
	}
	if err != nil {
		return nil, err
	}

	gasLimit := profile.WithdrawGasLimit
	if gasLimit == 0 {
		address, addrErr := e.accounts.Address(record.ChainID)
		if addrErr != nil {
			return nil, addrErr
		}
		to := common.HexToAddress(record.Contract)
		err = e.policy.Do(ctx, func() error {
			var estErr error
			gasLimit, estErr = client.EstimateGas(ctx, ethereum.CallMsg{
				From:  address,
				To:    &to,
				Data:  data,
				Value: value,
			})
			return estErr
		})
		if err != nil {
			return nil, fmt.Errorf("failed to estimate gas: %w", err)
		}
		// Headroom against estimation drift between build and inclusion
		gasLimit = gasLimit * 120 / 100
	}

	tx := types.NewTransaction(*record.Nonce, common.HexToAddress(record.Contract), value, gasLimit, gasPrice, data)

	signed, err := e.accounts.SignTx(record.ChainID, tx)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("Transaction prepared",
		zap.String("fingerprint", record.Fingerprint),
		zap.Uint64("nonce", *record.Nonce),
		zap.String("gas_price", gasPrice.String()),
		zap.Uint64("gas_limit", gasLimit),
		zap.String("chain_id", chain.ChainID))

	return signed, nil
}

// signProposal obtains the governance signature for a privileged payload.
// The backend is called once per attempt; a refusal is permanent for this
// fingerprint.
func (e *Engine) signProposal(ctx context.Context, record *models.RelayRecord) ([]byte, error) {
	backend, ok := e.signers[SignerKey(record.ChainID, record.Contract)]
	if !ok {
		return nil, fmt.Errorf("no proposal signer configured for %s on chain %s", record.Contract, record.ChainID)
	}

	var sig []byte
	err := e.policy.Do(ctx, func() error {
		var signErr error
		sig, signErr = backend.Sign(ctx, record.Request.Proof)
		return signErr
	})
	if err != nil {
		return nil, fmt.Errorf("proposal signing failed: %w", err)
	}
	return sig, nil
}

// broadcast submits the signed transaction under the retry policy and
// moves the record to SUBMITTED. Attempts are counted into RetryCount.
func (e *Engine) broadcast(ctx context.Context, record *models.RelayRecord, signedTx *types.Transaction, resuming bool) error {
	client := e.clients[record.ChainID]

	attempts := 0
	err := e.policy.Do(ctx, func() error {
		attempts++
		sendErr := client.SendTransaction(ctx, signedTx)
		if sendErr == nil {
			return nil
		}
		msg := strings.ToLower(sendErr.Error())
		if strings.Contains(msg, "already known") {
			// The pool has this exact transaction; count it as delivered.
			return nil
		}
		if resuming && strings.Contains(msg, "nonce too low") {
			// The pre-crash broadcast went through; the confirmation loop
			// will locate the receipt or flag the consumed nonce.
			return nil
		}
		return sendErr
	})
	record.RetryCount += attempts
	if err != nil {
		return err
	}

	record.TxHash = signedTx.Hash().Hex()
	if err := e.transition(record, models.RelayStatusSubmitted); err != nil {
		return err
	}

	e.logger.Info("Transaction broadcast",
		zap.String("fingerprint", record.Fingerprint),
		zap.String("tx_hash", record.TxHash),
		zap.Int("attempts", attempts))

	return nil
}

// confirm polls for inclusion and the configured confirmation depth. A
// transaction unseen past the stuck timeout is resubmitted at the same
// nonce with a bumped gas price.
func (e *Engine) confirm(ctx context.Context, record *models.RelayRecord, client ChainClient, signedTx *types.Transaction) {
	chain := e.cfg.Chains[record.ChainID]
	txHash := common.HexToHash(record.TxHash)

	lastSubmit := time.Now()
	var lastGasPrice *big.Int
	if signedTx != nil {
		lastGasPrice = signedTx.GasPrice()
	}

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if e.ctx.Err() != nil {
				// Engine shutdown: leave SUBMITTED for restart resume.
				return
			}
			e.fail(record, fmt.Errorf("abandoned waiting for confirmation after %s", chain.MaxRelayTime))
			return
		case <-ticker.C:
		}

		receipt, err := client.TransactionReceipt(ctx, txHash)
		if err != nil {
			if !errors.Is(err, ethereum.NotFound) {
				e.logger.Warn("Receipt lookup failed",
					zap.String("fingerprint", record.Fingerprint),
					zap.Error(err))
				continue
			}

			if time.Since(lastSubmit) < chain.StuckTimeout {
				continue
			}

			// Stuck: replace at the same nonce with a bumped gas price
			replacement, repErr := e.resubmit(ctx, record, lastGasPrice)
			if repErr != nil {
				if retry.IsPermanent(repErr) {
					e.fail(record, fmt.Errorf("resubmission failed: %w", repErr))
					return
				}
				e.logger.Warn("Resubmission attempt failed",
					zap.String("fingerprint", record.Fingerprint),
					zap.Error(repErr))
				continue
			}
			txHash = replacement.Hash()
			lastGasPrice = replacement.GasPrice()
			lastSubmit = time.Now()
			continue
		}

		if receipt.Status == types.ReceiptStatusFailed {
			e.fail(record, fmt.Errorf("execution reverted in block %d", receipt.BlockNumber.Uint64()))
			return
		}

		head, err := client.BlockNumber(ctx)
		if err != nil {
			e.logger.Warn("Head lookup failed", zap.Error(err))
			continue
		}
		receiptBlock := receipt.BlockNumber.Uint64()
		if head < receiptBlock {
			// A lagging node or a shallow reorg answered the head query;
			// the subtraction below would wrap. Wait for a consistent view.
			continue
		}
		confirmations := head - receiptBlock + 1
		if confirmations < chain.ConfirmationDepth {
			continue
		}

		record.TxHash = txHash.Hex()
		if err := e.transition(record, models.RelayStatusConfirmed); err != nil {
			e.logger.Error("Failed to record confirmation", zap.Error(err))
			return
		}

		e.logger.Info("Transaction confirmed",
			zap.String("fingerprint", record.Fingerprint),
			zap.String("tx_hash", record.TxHash),
			zap.Uint64("confirmations", confirmations),
			zap.Int("retry_count", record.RetryCount))
		return
	}
}

// resubmit rebuilds the transaction at the same nonce with a bumped gas
// price and rebroadcasts it, recording the SUBMITTED self-loop.
func (e *Engine) resubmit(ctx context.Context, record *models.RelayRecord, lastGasPrice *big.Int) (*types.Transaction, error) {
	chain := e.cfg.Chains[record.ChainID]
	client := e.clients[record.ChainID]

	bumped := lastGasPrice
	if bumped == nil {
		suggested, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, err
		}
		bumped = suggested
	}
	bumped = new(big.Int).Mul(bumped, big.NewInt(int64(100+chain.GasBumpPercent)))
	bumped.Div(bumped, big.NewInt(100))

	replacement, err := e.prepare(ctx, record, bumped)
	if err != nil {
		return nil, err
	}

	if err := client.SendTransaction(ctx, replacement); err != nil {
		msg := strings.ToLower(err.Error())
		if !strings.Contains(msg, "already known") {
			return nil, err
		}
	}

	record.TxHash = replacement.Hash().Hex()
	record.RetryCount++
	if err := e.transition(record, models.RelayStatusSubmitted); err != nil {
		return nil, err
	}

	e.logger.Info("Replacement transaction broadcast",
		zap.String("fingerprint", record.Fingerprint),
		zap.String("tx_hash", record.TxHash),
		zap.String("gas_price", bumped.String()))

	return replacement, nil
}
