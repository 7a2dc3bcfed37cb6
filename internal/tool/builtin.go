package tool

import (
	"context"
	"encoding/json"
	"time"
)

// TimeLayout is the format tool results use for the current system time.
const TimeLayout = "2006-01-02 15:04:05"

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{},"required":[],"additionalProperties":false}`)

// TimeDefinition exposes the local clock as the get_current_time tool, the
// one capability the gateway serves without a remote tool server.
func TimeDefinition() Definition {
	return Definition{
		Name:        "get_current_time",
		Description: "以YYYY-MM-DD HH:MM:SS格式检索当前系统时间",
		Parameters:  emptyObjectSchema,
		Handler: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			return json.Marshal(time.Now().Format(TimeLayout))
		},
	}
}

// PythonDefinition describes the remote code-execution tool served at the
// given address.
func PythonDefinition(address string) Definition {
	return Definition{
		Name:        "execute_python_code",
		Description: "在受限沙箱中执行一段Python代码并返回其打印输出",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"code": {"type": "string", "description": "包含print输出语句的Python代码"}
			},
			"required": ["code"],
			"additionalProperties": false
		}`),
		Handler: NewRemoteExecutor(address, "execute_python_code"),
	}
}

// WeatherDefinition describes the remote weather-lookup tool served at
// the given address.
func WeatherDefinition(address string) Definition {
	return Definition{
		Name:        "get_weather",
		Description: "查询指定城市的当前天气和未来几天的天气预报",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"city": {"type": "string", "description": "要查询天气的城市名称"}
			},
			"required": ["city"],
			"additionalProperties": false
		}`),
		Handler: NewRemoteExecutor(address, "get_weather"),
	}
}

// WebSearchDefinition describes the remote web-query tool served at the
// given address.
func WebSearchDefinition(address string) Definition {
	return Definition{
		Name:        "web_search",
		Description: "联网搜索并返回与查询相关的网页摘要",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "搜索关键词"}
			},
			"required": ["query"],
			"additionalProperties": false
		}`),
		Handler: NewRemoteExecutor(address, "web_search"),
	}
}
