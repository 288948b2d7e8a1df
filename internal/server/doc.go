/*
Package server 提供命令运行期间的运维 HTTP 端点。

Manager 封装 net/http.Server：Start 绑定监听后在后台服务，Addr 返回实际
监听地址（便于使用 ":0"），Shutdown 在超时内优雅关闭。HealthHandler 依次
执行各依赖的 Check（运行状态存储、调研缓存、智能体健康检查），全部通过返回
200，否则返回 503 与各项错误。

cmd/careerflow 在配置了 metrics.addr 时把 /metrics 与 /healthz 挂在同一个
Manager 上。
*/
package server
