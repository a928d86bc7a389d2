package itslive

// The annual mosaics carry 32 variables; most callers only want the velocity
// components and their errors, so that subset is the download default.
var (
	variablesAll = []string{
		"count",
		"count0",
		"dt_max",
		"dv_dt",
		"dvx_dt",
		"dvy_dt",
		"floatingice",
		"landice",
		"mapping",
		"outlier_percent",
		"sensor_flag",
		"v",
		"v0",
		"v0_error",
		"v_amp",
		"v_amp_error",
		"v_error",
		"v_phase",
		"vx",
		"vx0",
		"vx0_error",
		"vx_amp",
		"vx_amp_error",
		"vx_error",
		"vx_phase",
		"vy",
		"vy0",
		"vy0_error",
		"vy_amp",
		"vy_amp_error",
		"vy_error",
		"vy_phase",
	}

	variablesDefault = []string{
		"mapping",
		"v",
		"v_error",
		"vx",
		"vx_error",
		"vy",
		"vy_error",
	}
)

func knownVariable(name string) bool {
	for _, v := range variablesAll {
		if v == name {
			return true
		}
	}
	return false
}

// VariablesAll lists every variable available in the annual mosaics.
func VariablesAll() []string {
	out := make([]string, len(variablesAll))
	copy(out, variablesAll)
	return out
}

// VariablesDefault lists the variables downloaded when none are requested.
func VariablesDefault() []string {
	out := make([]string, len(variablesDefault))
	copy(out, variablesDefault)
	return out
}
