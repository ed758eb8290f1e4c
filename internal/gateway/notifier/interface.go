package notifier

// TextNotifier 最小的文本推送接口，调用方无需依赖具体实现。
type TextNotifier interface {
	SendText(text string) error
}

// Nop 丢弃所有消息，未启用通知时使用。
type Nop struct{}

func (Nop) SendText(string) error { return nil }
