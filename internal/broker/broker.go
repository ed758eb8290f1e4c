// Package broker 负责订单排队与按给定价格成交。
package broker

import (
	"math"
	"time"
)

// Action 订单动作。
type Action string

const (
	ActionBuy   Action = "BUY"
	ActionSell  Action = "SELL"
	ActionClose Action = "CLOSE"
)

// Order 交易请求；BUY 数量为正，SELL 为负，CLOSE 为 0 由引擎按持仓解析。
type Order struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	Action   Action  `json:"action"`
}

// Fill 成交结果，只被 Portfolio 消费一次。
type Fill struct {
	Symbol     string    `json:"symbol"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Action     Action    `json:"action"`
	Time       time.Time `json:"time"`
}

// Broker 模拟撮合：维护待处理队列并计算手续费。
type Broker struct {
	commission CommissionModel
	queue      []Order
}

// New 构造 Broker；model 为 nil 时不收手续费。
func New(model CommissionModel) *Broker {
	if model == nil {
		model = Percentage{}
	}
	return &Broker{commission: model}
}

// CommissionModel 返回该 Broker 固定使用的手续费模型。
func (b *Broker) CommissionModel() CommissionModel {
	return b.commission
}

func (b *Broker) Buy(symbol string, quantity float64) *Order {
	if !(quantity > 0) || math.IsInf(quantity, 0) {
		return nil
	}
	return b.enqueue(Order{Symbol: symbol, Quantity: quantity, Action: ActionBuy})
}

func (b *Broker) Sell(symbol string, quantity float64) *Order {
	if !(quantity > 0) || math.IsInf(quantity, 0) {
		return nil
	}
	return b.enqueue(Order{Symbol: symbol, Quantity: -quantity, Action: ActionSell})
}

// Close 无论当前是否持仓都入队，由引擎在出队时解析。
func (b *Broker) Close(symbol string) *Order {
	return b.enqueue(Order{Symbol: symbol, Action: ActionClose})
}

func (b *Broker) enqueue(o Order) *Order {
	b.queue = append(b.queue, o)
	out := o
	return &out
}

// PendingOrders 取出并清空队列。
func (b *Broker) PendingOrders() []Order {
	orders := b.queue
	b.queue = nil
	if orders == nil {
		return []Order{}
	}
	return orders
}

// Pending 队列长度（不出队）。
func (b *Broker) Pending() int {
	return len(b.queue)
}

// Execute 以 price 成交；非 CLOSE 的零数量订单返回 nil。
func (b *Broker) Execute(order Order, price float64) *Fill {
	if order.Quantity == 0 && order.Action != ActionClose {
		return nil
	}
	return &Fill{
		Symbol:     order.Symbol,
		Quantity:   order.Quantity,
		Price:      price,
		Commission: b.commission.Commission(price, order.Quantity),
		Action:     order.Action,
	}
}
