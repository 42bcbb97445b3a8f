// Package markets opens LMSR markets and reads their pricing state.
package markets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"socialpredict-amm/handlers/math/probabilities/lmsr"
	"socialpredict-amm/models"
)

const (
	maxQuestionTitleLength = 160
	maxDescriptionLength   = 2000
	maxLabelLength         = 20

	// DefaultLiquidityMicros is b for markets opened without one.
	DefaultLiquidityMicros = 100 * lmsr.Scale

	// MinOpenDuration is how far in the future a new market must close.
	MinOpenDuration = time.Hour
)

var (
	ErrMarketNotFound = errors.New("market not found")
	ErrMarketClosed   = errors.New("market is closed")
	ErrMarketResolved = errors.New("market is already resolved")

	// ErrWrongTradingMode is returned for markets that are not priced by the
	// market maker.
	ErrWrongTradingMode = errors.New("market is not an LMSR market")
)

var policy = bluemonday.StrictPolicy()

// OpenRequest describes a new market.
type OpenRequest struct {
	QuestionTitle   string    `json:"questionTitle"`
	Description     string    `json:"description"`
	CloseAt         time.Time `json:"closeAt"`
	YesLabel        string    `json:"yesLabel,omitempty"`
	NoLabel         string    `json:"noLabel,omitempty"`
	LiquidityMicros int64     `json:"liquidityMicros,omitempty"`
}

// Open creates an LMSR market with no shares outstanding, so both outcomes
// start at half a credit. Title and description are stripped of markup.
func Open(ctx context.Context, db *gorm.DB, req OpenRequest) (*models.Market, error) {
	return open(ctx, db, req, time.Now())
}

func open(ctx context.Context, db *gorm.DB, req OpenRequest, now time.Time) (*models.Market, error) {
	title := strings.TrimSpace(policy.Sanitize(req.QuestionTitle))
	if len(title) < 1 || len(title) > maxQuestionTitleLength {
		return nil, errors.Wrapf(lmsr.ErrInvalidParameter, "question title must be 1-%d characters", maxQuestionTitleLength)
	}

	description := strings.TrimSpace(policy.Sanitize(req.Description))
	if len(description) > maxDescriptionLength {
		return nil, errors.Wrapf(lmsr.ErrInvalidParameter, "description must be at most %d characters", maxDescriptionLength)
	}

	if req.CloseAt.Before(now.Add(MinOpenDuration)) {
		return nil, errors.Wrapf(lmsr.ErrInvalidParameter, "close time must be at least %s in the future", MinOpenDuration)
	}

	yesLabel := strings.TrimSpace(req.YesLabel)
	noLabel := strings.TrimSpace(req.NoLabel)
	if yesLabel == "" {
		yesLabel = "YES"
	}
	if noLabel == "" {
		noLabel = "NO"
	}
	if len(yesLabel) > maxLabelLength || len(noLabel) > maxLabelLength {
		return nil, errors.Wrapf(lmsr.ErrInvalidParameter, "labels must be %d characters or less", maxLabelLength)
	}

	b := req.LiquidityMicros
	if b == 0 {
		b = DefaultLiquidityMicros
	}
	if b < 0 {
		return nil, errors.Wrapf(lmsr.ErrInvalidParameter, "liquidity must be positive, got %d", b)
	}

	market := &models.Market{
		QuestionTitle:   title,
		Description:     description,
		YesLabel:        yesLabel,
		NoLabel:         noLabel,
		TradingMode:     models.TradingModeLMSR,
		CloseAt:         req.CloseAt.UTC(),
		LiquidityMicros: b,
	}
	if err := db.WithContext(ctx).Create(market).Error; err != nil {
		return nil, errors.Wrap(err, "create market")
	}
	return market, nil
}

// CheckTradable returns why m cannot take trades at now, or nil.
func CheckTradable(m *models.Market, now time.Time) error {
	if m.TradingMode != models.TradingModeLMSR {
		return errors.Wrapf(ErrWrongTradingMode, "market %d trades as %s", m.ID, m.TradingMode)
	}
	if m.IsResolved {
		return errors.Wrapf(ErrMarketResolved, "market %d resolved %s", m.ID, m.ResolutionResult)
	}
	if m.IsClosed(now) {
		return errors.Wrapf(ErrMarketClosed, "market %d closed at %s", m.ID, m.CloseAt.Format(time.RFC3339))
	}
	return nil
}

// View is a market with its current prices.
type View struct {
	Market models.Market    `json:"market"`
	State  lmsr.MarketState `json:"state"`
}

// String renders the prices for terminal output.
func (v View) String() string {
	return fmt.Sprintf("market %d %q: %s %s / %s %s (v%d)",
		v.Market.ID, v.Market.QuestionTitle,
		v.Market.YesLabel, models.FormatMicros(v.State.PriceYes),
		v.Market.NoLabel, models.FormatMicros(v.State.PriceNo),
		v.Market.Version)
}

// State reads a market without locking it. The result may be stale by the
// time it is used; settlement always reprices under the market lock.
func State(ctx context.Context, db *gorm.DB, marketID int64) (*View, error) {
	m, err := load(ctx, db, marketID)
	if err != nil {
		return nil, err
	}
	state, err := lmsr.GetMarketState(m.QYesMicros, m.QNoMicros, m.LiquidityMicros)
	if err != nil {
		return nil, err
	}
	return &View{Market: *m, State: state}, nil
}

// Simulate previews spending amount on outcome without placing a trade.
func Simulate(ctx context.Context, db *gorm.DB, marketID int64, outcome lmsr.Outcome, amount int64) (*lmsr.Simulation, error) {
	m, err := load(ctx, db, marketID)
	if err != nil {
		return nil, err
	}
	if m.TradingMode != models.TradingModeLMSR {
		return nil, errors.Wrapf(ErrWrongTradingMode, "market %d trades as %s", m.ID, m.TradingMode)
	}
	sim, err := lmsr.Simulate(m.QYesMicros, m.QNoMicros, m.LiquidityMicros, outcome, amount)
	if err != nil {
		return nil, err
	}
	return &sim, nil
}

func load(ctx context.Context, db *gorm.DB, marketID int64) (*models.Market, error) {
	var m models.Market
	if err := db.WithContext(ctx).First(&m, marketID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(ErrMarketNotFound, "market %d", marketID)
		}
		return nil, errors.Wrapf(err, "load market %d", marketID)
	}
	return &m, nil
}
