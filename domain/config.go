package queueline

type Config struct {
	LogLevel string
	Listener string

	AdminPassword    string `mapstructure:"admin_password,omitempty" validate:"required"` // 管理者パスワード
	MaxQueueSize     int    `mapstructure:"max_queue_size,omitempty" validate:"required,gt=0"`
	MaxWaitSec       int    `mapstructure:"max_wait_sec,omitempty" validate:"required,gt=0"` // これを超えて待つと掃除対象
	SaveIntervalSec  int    `mapstructure:"save_interval_sec,omitempty" validate:"required,gt=0"`
	SweepIntervalSec int    `mapstructure:"sweep_interval_sec,omitempty" validate:"required,gt=0"`
	SlackApiToken    string `mapstructure:"slack_api_token,omitempty"` // Slack Api Token
	SlackChannel     string `mapstructure:"slack_channel,omitempty"`   // Slack Channel
}
