package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Experiment is the parsed experiment config file shared by the launcher and
// the agent run.
type Experiment struct {
	AgentType string      `mapstructure:"agent_type"`
	DateRange DateRange   `mapstructure:"date_range"`
	Models    []Model     `mapstructure:"models"`
	Agent     AgentConfig `mapstructure:"agent_config"`
}

// DateRange bounds the decision cycles of a run, inclusive on both ends.
type DateRange struct {
	InitDate string `mapstructure:"init_date"`
	EndDate  string `mapstructure:"end_date"`
}

// Model is one experiment entry. Its signature namespaces all storage paths.
type Model struct {
	Name      string `mapstructure:"name"`
	BaseModel string `mapstructure:"basemodel"`
	Signature string `mapstructure:"signature"`
	Enabled   bool   `mapstructure:"enabled"`
}

// AgentConfig holds the strategy settings for the agent run.
type AgentConfig struct {
	Strategy     string   `mapstructure:"strategy"`
	Symbols      []string `mapstructure:"symbols"`
	TopMarkets   int      `mapstructure:"top_markets"`
	InitialCash  float64  `mapstructure:"initial_cash"`
	CashFraction float64  `mapstructure:"cash_fraction"`
}

// EnabledModels returns the models that take part in the run.
func (e Experiment) EnabledModels() []Model {
	var out []Model
	for _, m := range e.Models {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// LoadExperiment reads and parses the experiment config file.
func LoadExperiment(path string) (exp Experiment, err error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("agent_config.strategy", "momentum")
	v.SetDefault("agent_config.top_markets", 10)
	v.SetDefault("agent_config.cash_fraction", 0.25)

	if err = v.ReadInConfig(); err != nil {
		return exp, fmt.Errorf("failed to read experiment config: %w", err)
	}

	if err = v.Unmarshal(&exp); err != nil {
		return exp, fmt.Errorf("failed to parse experiment config: %w", err)
	}

	return exp, nil
}
