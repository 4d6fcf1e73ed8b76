package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Delta sync of every linked account, every five minutes
	CronSchedulePollSync string `env:"CRON_SCHEDULE_POLL_SYNC" envDefault:"0 */5 * * * *"`
}
