// Package notifier 把已匹配 watcher 的事件按偏好过滤后分片投递到 Kafka。
package notifier

// ShardOf 返回 watcher 所属分片。
//
// watcher id 是时间有序 snowflake，低 22 位为机器/序列位，
// 右移后按时间戳取模: 同一 watcher 永远落在同一分片，
// 相近时间创建的 watcher 大致均匀分布。
func ShardOf(watcherID int64, totalShards int) int {
	if totalShards <= 1 {
		return 0
	}
	return int((watcherID >> 22) % int64(totalShards))
}
