package agent

import (
	"github.com/spf13/cobra"
)

func initMonitorFlags(root *cobra.Command) {
	f := root.PersistentFlags()

	f.Duration("monitor.interval", defaultCfg.Monitor.Interval, "-> Idle time between two poll cycles (采集间隔)")
	f.Duration("monitor.timeout", defaultCfg.Monitor.Timeout, "-> Poll cycle timeout, 0 disables (单周期超时)")
	f.String("monitor.tag", defaultCfg.Monitor.Tag, "-> Tag attached to every snapshot (快照标签)")

	f.Duration("monitor.retry.initial-interval", defaultCfg.Monitor.Retry.InitialInterval, "-> First reconnect delay (首次重连间隔)")
	f.Duration("monitor.retry.max-interval", defaultCfg.Monitor.Retry.MaxInterval, "-> Max reconnect delay (最大重连间隔)")
	f.Duration("monitor.retry.max-elapsed", defaultCfg.Monitor.Retry.MaxElapsed, "-> Give up reconnecting after, 0 retries forever (重连总时长)")

	f.String("binding.file", defaultCfg.Binding.File, "-> VCAP_SERVICES style JSON file, empty reads the environment (服务绑定文件)")
}

func initSinkFlags(root *cobra.Command) {
	f := root.PersistentFlags()

	f.StringSlice("sink.types", defaultCfg.Sink.Types, "-> Enabled sinks [log,nats,prometheus] (指标下游)")
	f.String("sink.nats.url", defaultCfg.Sink.NATS.URL, "-> NATS server URL")
	f.String("sink.nats.subject-prefix", defaultCfg.Sink.NATS.SubjectPrefix, "-> NATS subject prefix (主题前缀)")
	f.String("sink.nats.name", defaultCfg.Sink.NATS.Name, "-> NATS connection name")
}
