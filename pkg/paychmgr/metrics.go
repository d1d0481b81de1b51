package paychmgr

import "github.com/filecoin-project/venus-statechannel/metrics"

var (
	simulationFallbacksCt = metrics.NewInt64Counter("statechannel/simulation_fallbacks", "Number of channel opens that fell back to simulation")
	defaultedFieldsCt     = metrics.NewInt64Counter("statechannel/defaulted_fields", "Number of coordinator response fields filled with defaults")
	decimalsFallbacksCt   = metrics.NewInt64Counter("statechannel/decimals_fallbacks", "Number of token precision lookups that used the default")
)
