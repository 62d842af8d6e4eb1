package telemetry

// Topic name constants, exactly as the devices publish them.
const (
	TopicGridRTData  = "MQTT_RT_DATA"
	TopicGridEnyNow  = "MQTT_ENY_NOW"
	TopicGridDayData = "MQTT_DAY_DATA"
	TopicGridEnyFrz  = "MQTT_ENY_FRZ"
	TopicEnvironment = "CCCL/PURBACHAL/ENV_01"
	TopicGenerator   = "CCCL/PURBACHAL/ENM_01"

	// TopicTCPSolar tags documents and liveness entries from the TCP
	// solar path, which has no broker topic of its own.
	TopicTCPSolar = "tcp_solar"
)

// Collection name constants for every collection the engine writes.
const (
	CollGridRTData      = "grid_rt_data"
	CollGridEnyNow      = "grid_eny_now_data"
	CollGridDayData     = "grid_day_data"
	CollGridEnyFrz      = "grid_eny_frz_data"
	CollEnvironment     = "environment_data"
	CollGenerator       = "generator_data"
	CollSolar           = "solar_data"
	CollTelemetryEvents = "telemetry_events"

	CollTodayGridRT    = "today_grid_rt_data"
	CollLast7dGridRT   = "last_7_days_grid_rt_data"
	CollLast30dGridRT  = "last_30_days_grid_rt_data"
	CollLast6moGridRT  = "last_6_months_grid_rt_data"
	CollThisYearGridRT = "this_year_grid_rt_data"

	CollTodayEnyNow    = "today_grid_eny_now_data"
	CollLast30dEnyNow  = "last_30_days_grid_eny_now_data"
	CollLast6moEnyNow  = "last_6_months_grid_eny_now_data"
	CollThisYearEnyNow = "this_year_grid_eny_now_data"

	CollTodayEnv    = "today_environment_data"
	CollLast7dEnv   = "last_7_days_environment_data"
	CollLast30dEnv  = "last_30_days_environment_data"
	CollLast6moEnv  = "last_6_months_environment_data"
	CollThisYearEnv = "this_year_environment_data"

	CollTodaySolar        = "today_solar_data"
	CollCurrentMonthSolar = "current_month_solar_data"
)

// DefaultCollection is the configurable fallback for unrecognised topics.
const DefaultCollection = "telemetry_events"

// AllCollections is the authoritative, deduplicated enumeration of every
// collection. Schema init iterates this list so a collection can never be
// created without also carrying its indexes; retention uses its own
// per-tier policy list instead.
var AllCollections = []string{
	CollGridRTData, CollGridEnyNow, CollGridDayData, CollGridEnyFrz,
	CollEnvironment, CollGenerator, CollSolar, CollTelemetryEvents,
	CollTodayGridRT, CollLast7dGridRT, CollLast30dGridRT, CollLast6moGridRT, CollThisYearGridRT,
	CollTodayEnyNow, CollLast30dEnyNow, CollLast6moEnyNow, CollThisYearEnyNow,
	CollTodayEnv, CollLast7dEnv, CollLast30dEnv, CollLast6moEnv, CollThisYearEnv,
	CollTodaySolar, CollCurrentMonthSolar,
}

// RouteCollection maps a topic to its primary collection, falling back to
// defaultColl for unrecognised topics.
func RouteCollection(topic, defaultColl string) string {
	switch topic {
	case TopicGridRTData:
		return CollGridRTData
	case TopicGridEnyNow:
		return CollGridEnyNow
	case TopicGridDayData:
		return CollGridDayData
	case TopicGridEnyFrz:
		return CollGridEnyFrz
	case TopicEnvironment:
		return CollEnvironment
	case TopicGenerator:
		return CollGenerator
	default:
		if defaultColl == "" {
			return DefaultCollection
		}
		return defaultColl
	}
}
