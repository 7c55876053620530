// Package ledger is the execution environment the engine's contracts run on:
// exact native and token balances, one serialized state transition at a
// time, and a journal that undoes every mutation of a failed call.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// TxOpts is the caller identity and attached value of one call.
type TxOpts struct {
	Context context.Context
	From    common.Address
	Value   *big.Int
}

// Receiver is implemented by accounts that run code when they are paid.
// OnReceive runs inside the paying transition; any call it makes must use
// opts, whose context joins the running transaction.
type Receiver interface {
	OnReceive(opts *TxOpts, from common.Address, amount *big.Int) error
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(opts *TxOpts, from common.Address, amount *big.Int) error

// OnReceive calls f.
func (f ReceiverFunc) OnReceive(opts *TxOpts, from common.Address, amount *big.Int) error {
	return f(opts, from, amount)
}

// Event is a committed log entry emitted by a contract.
type Event struct {
	Contract common.Address
	Name     string
	Time     time.Time
	Data     any
}

type allowanceKey struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

type txKey struct{}

// tx is the state of one outermost transition.
type tx struct {
	now     time.Time
	journal []func()
	events  []Event
}

func (t *tx) mark() (int, int) {
	return len(t.journal), len(t.events)
}

func (t *tx) revertTo(journal, events int) {
	for i := len(t.journal) - 1; i >= journal; i-- {
		t.journal[i]()
	}
	t.journal = t.journal[:journal]
	t.events = t.events[:events]
}

// Ledger serializes state transitions over a set of accounts.
type Ledger struct {
	mu    sync.Mutex
	pubMu sync.Mutex

	clock    Clock
	chainID  *big.Int
	deployer common.Address
	nonce    uint64

	balances   map[common.Address]*big.Int
	tokens     map[common.Address]map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
	receivers  map[common.Address]Receiver
	supply     *big.Int

	subMu       sync.RWMutex
	subscribers map[int]func(Event)
	nextSub     int
}

// New creates an empty ledger.
func New(chainID *big.Int, clock Clock) *Ledger {
	if clock == nil {
		clock = SystemClock{}
	}
	if chainID == nil {
		chainID = big.NewInt(1)
	}
	return &Ledger{
		clock:       clock,
		chainID:     new(big.Int).Set(chainID),
		deployer:    common.BytesToAddress(crypto.Keccak256([]byte("solverbond.deployer"))),
		balances:    make(map[common.Address]*big.Int),
		tokens:      make(map[common.Address]map[common.Address]*big.Int),
		allowances:  make(map[allowanceKey]*big.Int),
		receivers:   make(map[common.Address]Receiver),
		supply:      new(big.Int),
		subscribers: make(map[int]func(Event)),
	}
}

// ChainID returns the chain identity bound into receipt signatures.
func (l *Ledger) ChainID() *big.Int {
	return new(big.Int).Set(l.chainID)
}

// Now returns the clock's current time.
func (l *Ledger) Now() time.Time {
	return l.clock.Now()
}

// DeployAddress derives the address of the next contract.
func (l *Ledger) DeployAddress() common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	addr := crypto.CreateAddress(l.deployer, l.nonce)
	l.nonce++
	return addr
}

// Transact runs fn as a call from opts.From to contract. The outermost call
// takes the transition lock; calls made with a context derived from a
// running call join its transaction. Attached value moves to contract before
// fn runs. If fn fails, every mutation made since the call began is undone.
func (l *Ledger) Transact(opts *TxOpts, contract common.Address, fn func(*Call) error) (err error) {
	if opts == nil {
		return ErrNilOpts
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t, nested := ctx.Value(txKey{}).(*tx)
	if !nested {
		l.mu.Lock()
		t = &tx{now: l.clock.Now()}
		ctx = context.WithValue(ctx, txKey{}, t)
	}
	journalMark, eventMark := t.mark()

	call := &Call{
		ledger: l,
		tx:     t,
		ctx:    ctx,
		sender: opts.From,
		self:   contract,
		value:  new(big.Int),
	}
	if opts.Value != nil {
		call.value.Set(opts.Value)
	}

	committed := false
	defer func() {
		if r := recover(); r != nil {
			t.revertTo(journalMark, eventMark)
			if !nested {
				l.mu.Unlock()
			}
			panic(r)
		}
		if !committed {
			t.revertTo(journalMark, eventMark)
		}
		if nested {
			return
		}
		if !committed {
			l.mu.Unlock()
			return
		}
		events := t.events
		l.pubMu.Lock()
		l.mu.Unlock()
		defer l.pubMu.Unlock()
		l.publish(events)
	}()

	if call.value.Sign() < 0 {
		return ErrNegativeValue
	}
	if call.value.Sign() > 0 {
		if err := l.move(t, opts.From, contract, call.value); err != nil {
			return err
		}
	}
	if err := fn(call); err != nil {
		return err
	}
	committed = true
	return nil
}

// Read runs fn with a consistent view of state. Inside a running call it
// joins that call's transaction.
func (l *Ledger) Read(ctx context.Context, fn func()) {
	if ctx != nil {
		if _, ok := ctx.Value(txKey{}).(*tx); ok {
			fn()
			return
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}

// InTransaction reports whether ctx belongs to a running call.
func InTransaction(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	_, ok := ctx.Value(txKey{}).(*tx)
	return ok
}

// Fund mints native value to addr. It is for genesis allocation and tests
// and must not be called from inside a transaction.
func (l *Ledger) Fund(addr common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balanceLocked(addr)
	l.balances[addr] = new(big.Int).Add(bal, amount)
	l.supply.Add(l.supply, amount)
}

// MintToken mints a fungible token balance to addr. Same restrictions as Fund.
func (l *Ledger) MintToken(token, addr common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	holders := l.tokens[token]
	if holders == nil {
		holders = make(map[common.Address]*big.Int)
		l.tokens[token] = holders
	}
	bal := holders[addr]
	if bal == nil {
		bal = new(big.Int)
	}
	holders[addr] = new(big.Int).Add(bal, amount)
}

// SetReceiver installs (or with nil removes) the payment hook of addr.
func (l *Ledger) SetReceiver(addr common.Address, r Receiver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r == nil {
		delete(l.receivers, addr)
		return
	}
	l.receivers[addr] = r
}

// BalanceOf returns the native balance of addr.
func (l *Ledger) BalanceOf(ctx context.Context, addr common.Address) *big.Int {
	var out *big.Int
	l.Read(ctx, func() {
		out = new(big.Int).Set(l.balanceLocked(addr))
	})
	return out
}

// TokenBalanceOf returns the token balance of addr.
func (l *Ledger) TokenBalanceOf(ctx context.Context, token, addr common.Address) *big.Int {
	var out *big.Int
	l.Read(ctx, func() {
		out = new(big.Int).Set(l.tokenBalanceLocked(token, addr))
	})
	return out
}

// Allowance returns how much spender may pull from owner's token balance.
func (l *Ledger) Allowance(ctx context.Context, token, owner, spender common.Address) *big.Int {
	var out *big.Int
	l.Read(ctx, func() {
		out = new(big.Int)
		if a := l.allowances[allowanceKey{token, owner, spender}]; a != nil {
			out.Set(a)
		}
	})
	return out
}

// ApproveToken lets spender pull up to amount of token from opts.From.
func (l *Ledger) ApproveToken(opts *TxOpts, token, spender common.Address, amount *big.Int) error {
	return l.Transact(opts, token, func(c *Call) error {
		if amount == nil || amount.Sign() < 0 {
			return ErrNegativeValue
		}
		key := allowanceKey{token, c.Sender(), spender}
		prev := l.allowances[key]
		l.allowances[key] = new(big.Int).Set(amount)
		c.Journal(func() { l.restoreAllowance(key, prev) })
		c.Emit("Approval", map[string]string{
			"owner":   c.Sender().Hex(),
			"spender": spender.Hex(),
			"amount":  amount.String(),
		})
		return nil
	})
}

// Supply returns the total native value ever minted.
func (l *Ledger) Supply() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.supply)
}

// Subscribe registers fn for every committed event, delivered in commit order
// after the transition lock is released. The returned func unsubscribes.
func (l *Ledger) Subscribe(fn func(Event)) func() {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	id := l.nextSub
	l.nextSub++
	l.subscribers[id] = fn
	return func() {
		l.subMu.Lock()
		defer l.subMu.Unlock()
		delete(l.subscribers, id)
	}
}

func (l *Ledger) publish(events []Event) {
	if len(events) == 0 {
		return
	}
	l.subMu.RLock()
	subs := make([]func(Event), 0, len(l.subscribers))
	for i := 0; i < l.nextSub; i++ {
		if fn, ok := l.subscribers[i]; ok {
			subs = append(subs, fn)
		}
	}
	l.subMu.RUnlock()
	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

func (l *Ledger) balanceLocked(addr common.Address) *big.Int {
	if bal := l.balances[addr]; bal != nil {
		return bal
	}
	return new(big.Int)
}

func (l *Ledger) tokenBalanceLocked(token, addr common.Address) *big.Int {
	if holders := l.tokens[token]; holders != nil {
		if bal := holders[addr]; bal != nil {
			return bal
		}
	}
	return new(big.Int)
}

// move transfers native value and journals the previous balances.
func (l *Ledger) move(t *tx, from, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	fromBal := l.balanceLocked(from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal, amount)
	}
	prevFrom, prevTo := l.balances[from], l.balances[to]
	t.journal = append(t.journal, func() {
		l.restoreBalance(from, prevFrom)
		l.restoreBalance(to, prevTo)
	})
	l.balances[from] = new(big.Int).Sub(fromBal, amount)
	l.balances[to] = new(big.Int).Add(l.balanceLocked(to), amount)
	return nil
}

func (l *Ledger) moveToken(t *tx, token, from, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	fromBal := l.tokenBalanceLocked(token, from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s of token %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal, token.Hex(), amount)
	}
	holders := l.tokens[token]
	if holders == nil {
		holders = make(map[common.Address]*big.Int)
		l.tokens[token] = holders
	}
	prevFrom, prevTo := holders[from], holders[to]
	t.journal = append(t.journal, func() {
		restore(holders, from, prevFrom)
		restore(holders, to, prevTo)
	})
	holders[from] = new(big.Int).Sub(fromBal, amount)
	holders[to] = new(big.Int).Add(l.tokenBalanceLocked(token, to), amount)
	return nil
}

func (l *Ledger) restoreBalance(addr common.Address, prev *big.Int) {
	restore(l.balances, addr, prev)
}

func (l *Ledger) restoreAllowance(key allowanceKey, prev *big.Int) {
	if prev == nil {
		delete(l.allowances, key)
		return
	}
	l.allowances[key] = prev
}

func restore(m map[common.Address]*big.Int, addr common.Address, prev *big.Int) {
	if prev == nil {
		delete(m, addr)
		return
	}
	m[addr] = prev
}
