package progress

import (
	"sort"
	"time"
)

// DefaultHistoryWindow bounds the per-item sample history the estimator
// keeps; completion history per item type is pruned at twice the window.
const DefaultHistoryWindow = 10

// samplePoint is one observed (elapsed, progress) pair.
type samplePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Progress  float64   `json:"progress"`
	Elapsed   float64   `json:"elapsed"`
}

// activeEstimation tracks one in-flight item.
type activeEstimation struct {
	StartTime    time.Time     `json:"start_time"`
	ItemType     ItemType      `json:"item_type"`
	TotalWork    float64       `json:"total_work"`
	LastProgress float64       `json:"last_progress"`
	LastTime     time.Time     `json:"last_time"`
	History      []samplePoint `json:"progress_history"`
}

// completionSample records how long one finished item actually took.
type completionSample struct {
	TotalWork      float64 `json:"total_work"`
	ActualDuration float64 `json:"actual_duration"`
}

// Estimator projects completion times from observed progress rates. Each
// active item keeps up to historyWindow samples; per-interval rates feed a
// median that projects the remaining work. Completed items contribute to a
// per-type history answering initial-estimate queries for similar work
// sizes (0.5x to 2x total work).
//
// The estimator is not internally locked; the Tracker's mutex guards it.
type Estimator struct {
	historyWindow int
	historical    map[ItemType][]completionSample
	active        map[string]*activeEstimation
	now           func() time.Time
}

// NewEstimator creates an Estimator with the given sample window (zero
// means DefaultHistoryWindow).
func NewEstimator(historyWindow int) *Estimator {
	if historyWindow <= 0 {
		historyWindow = DefaultHistoryWindow
	}
	return &Estimator{
		historyWindow: historyWindow,
		historical:    make(map[ItemType][]completionSample),
		active:        make(map[string]*activeEstimation),
		now:           time.Now,
	}
}

// Start begins estimating an item.
func (e *Estimator) Start(itemID string, itemType ItemType, totalWork float64) {
	now := e.now()
	e.active[itemID] = &activeEstimation{
		StartTime: now,
		ItemType:  itemType,
		TotalWork: totalWork,
		LastTime:  now,
	}
}

// Update records a progress observation and returns the projected time to
// completion, or false when fewer than two distinct samples exist or the
// rate is not positive.
func (e *Estimator) Update(itemID string, currentProgress float64) (time.Duration, bool) {
	est, ok := e.active[itemID]
	if !ok {
		return 0, false
	}
	now := e.now()
	if currentProgress > est.LastProgress {
		est.History = append(est.History, samplePoint{
			Timestamp: now,
			Progress:  currentProgress,
			Elapsed:   now.Sub(est.StartTime).Seconds(),
		})
		est.LastProgress = currentProgress
		est.LastTime = now
		if len(est.History) > e.historyWindow {
			est.History = est.History[len(est.History)-e.historyWindow:]
		}
	}
	if len(est.History) < 2 {
		return 0, false
	}

	rates := make([]float64, 0, len(est.History)-1)
	for i := 1; i < len(est.History); i++ {
		dt := est.History[i].Elapsed - est.History[i-1].Elapsed
		dp := est.History[i].Progress - est.History[i-1].Progress
		if dt > 0 {
			rates = append(rates, dp/dt)
		}
	}
	if len(rates) == 0 {
		return 0, false
	}
	sort.Float64s(rates)
	var median float64
	if len(rates)%2 == 0 {
		median = (rates[len(rates)/2-1] + rates[len(rates)/2]) / 2
	} else {
		median = rates[len(rates)/2]
	}
	if median <= 0 {
		return 0, false
	}
	remaining := (100 - currentProgress) / median
	return time.Duration(remaining * float64(time.Second)), true
}

// Complete finalizes an item's estimation and stores its actual duration in
// the per-type completion history.
func (e *Estimator) Complete(itemID string) {
	est, ok := e.active[itemID]
	if !ok {
		return
	}
	typ := est.ItemType
	e.historical[typ] = append(e.historical[typ], completionSample{
		TotalWork:      est.TotalWork,
		ActualDuration: e.now().Sub(est.StartTime).Seconds(),
	})
	if limit := e.historyWindow * 2; len(e.historical[typ]) > limit {
		e.historical[typ] = e.historical[typ][len(e.historical[typ])-limit:]
	}
	delete(e.active, itemID)
}

// InitialEstimate projects a duration for a new item from completed items
// of the same type with similar total work (half to double), scaled by the
// work ratio. It returns false when no history exists.
func (e *Estimator) InitialEstimate(itemType ItemType, totalWork float64) (time.Duration, bool) {
	history := e.historical[itemType]
	if len(history) == 0 {
		return 0, false
	}
	similar := make([]completionSample, 0, len(history))
	for _, s := range history {
		if 0.5*totalWork <= s.TotalWork && s.TotalWork <= 2.0*totalWork {
			similar = append(similar, s)
		}
	}
	if len(similar) == 0 {
		similar = history
	}
	var totalDuration, totalWorkSum float64
	for _, s := range similar {
		totalDuration += s.ActualDuration
		totalWorkSum += s.TotalWork
	}
	avgDuration := totalDuration / float64(len(similar))
	avgWork := totalWorkSum / float64(len(similar))
	if avgWork <= 0 {
		return 0, false
	}
	scaled := avgDuration * (totalWork / avgWork)
	return time.Duration(scaled * float64(time.Second)), true
}

// estimatorState is the persisted form of the estimator.
type estimatorState struct {
	HistoryWindow  int                           `json:"history_window"`
	HistoricalData map[ItemType][]completionSample `json:"historical_data"`
	Active         map[string]*activeEstimation  `json:"active_estimations"`
}

func (e *Estimator) snapshot() estimatorState {
	hist := make(map[ItemType][]completionSample, len(e.historical))
	for k, v := range e.historical {
		hist[k] = append([]completionSample(nil), v...)
	}
	active := make(map[string]*activeEstimation, len(e.active))
	for k, v := range e.active {
		cp := *v
		cp.History = append([]samplePoint(nil), v.History...)
		active[k] = &cp
	}
	return estimatorState{HistoryWindow: e.historyWindow, HistoricalData: hist, Active: active}
}

func (e *Estimator) restore(s estimatorState) {
	if s.HistoryWindow > 0 {
		e.historyWindow = s.HistoryWindow
	}
	if s.HistoricalData != nil {
		e.historical = s.HistoricalData
	}
	if s.Active != nil {
		e.active = s.Active
	}
}
