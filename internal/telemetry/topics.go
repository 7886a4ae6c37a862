package telemetry

import (
	"strings"

	"assembly-line-sim/internal/types"
)

// Topics 按前缀生成主题名，例如 factory/A01_DOOR/status
type Topics struct {
	Prefix string
}

// StationStatus 工站状态主题
func (t Topics) StationStatus(id types.StationID) string {
	return t.Prefix + "/" + string(id) + "/status"
}

// Quality 工站质检结果主题
func (t Topics) Quality(id types.StationID) string {
	return t.Prefix + "/" + string(id) + "/quality"
}

// LineStatus 产线汇总主题
func (t Topics) LineStatus() string {
	return t.Prefix + "/production_line/status"
}

// PartsFilter 订阅所有工站零部件信号的通配主题
func (t Topics) PartsFilter() string {
	return t.Prefix + "/supply_chain/+/parts"
}

// Parts 单个工站的零部件信号主题
func (t Topics) Parts(id types.StationID) string {
	return t.Prefix + "/supply_chain/" + string(id) + "/parts"
}

// ParseParts 从零部件主题中解析工站 ID
func (t Topics) ParseParts(topic string) (types.StationID, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/supply_chain/")
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/parts")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return types.StationID(id), true
}
