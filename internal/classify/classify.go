package classify

import (
	"strings"
)

// fallDetectedKey 最常见的跌倒标志字段
const fallDetectedKey = "fall_detected"

// eventKeys 部分设备用 event/type/status/alarm 字段携带事件文本
var eventKeys = [...]string{"event", "type", "status", "alarm"}

// IsFall 判断 mmWave payload 是否表示跌倒
// 纯函数，规则按顺序评估（顺序编码了回退优先级，不要合并简化）：
//  1. fall_detected 为真值（1, true, "1", "true", "TRUE"）
//  2. event/type/status/alarm 任一字符串字段包含 "fall"（不区分大小写）
//  3. classification 字符串字段等于 "fall"（不区分大小写）
//  4. 其余均不是跌倒
func IsFall(payload map[string]any) bool {
	if isTruthy(payload[fallDetectedKey]) {
		return true
	}

	for _, k := range eventKeys {
		if s, ok := payload[k].(string); ok {
			if strings.Contains(strings.ToLower(s), "fall") {
				return true
			}
		}
	}

	if s, ok := payload["classification"].(string); ok {
		if strings.EqualFold(s, "fall") {
			return true
		}
	}

	return false
}

// isTruthy 判断字段值是否属于 {1, true, "1", "true", "TRUE"}
// JSON 反序列化的数字是 float64，整型来源也一并接受
func isTruthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int:
		return t == 1
	case int64:
		return t == 1
	case float64:
		return t == 1
	case string:
		return t == "1" || t == "true" || t == "TRUE"
	default:
		return false
	}
}
