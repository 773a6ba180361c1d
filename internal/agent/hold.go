package agent

// HoldStrategy never trades. It pins a cash baseline to compare the other
// strategies against.
type HoldStrategy struct{}

func (s *HoldStrategy) Name() string {
	return "hold"
}

func (s *HoldStrategy) Initialize(ctx StrategyContext) error {
	return nil
}

func (s *HoldStrategy) Decide(ctx StrategyContext) ([]Intent, string, error) {
	return nil, "hold: baseline strategy never trades", nil
}
