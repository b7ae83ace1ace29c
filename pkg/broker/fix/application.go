package fixgateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joripage/brokerlink/pkg/broker/model"
	"github.com/joripage/brokerlink/pkg/logging"
	"github.com/quickfixgo/fix44/businessmessagereject"
	"github.com/quickfixgo/fix44/executionreport"
	"github.com/quickfixgo/fix44/marketdataincrementalrefresh"
	"github.com/quickfixgo/fix44/marketdatarequestreject"
	"github.com/quickfixgo/fix44/marketdatasnapshotfullrefresh"
	"github.com/quickfixgo/fix44/ordercancelreject"
	"github.com/quickfixgo/fix44/positionreport"
	"github.com/quickfixgo/fix44/securitylist"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/tag"
	"go.uber.org/zap"
)

// Application implements the quickfix.Application interface
type Application struct {
	*quickfix.MessageRouter
	cfg        Config
	log        *logging.Logger
	deliver    func(model.Message)
	dispatcher chan *inboundMsg
	closeOnce  sync.Once
	now        func() time.Time

	sessionID atomic.Pointer[quickfix.SessionID]
	routed    map[string]struct{}
}

// inboundMsg is either a raw application message or a session event already decoded.
type inboundMsg struct {
	msg       *quickfix.Message
	sessionID quickfix.SessionID
	event     model.Message
}

func newApplication(cfg Config, log *logging.Logger, deliver func(model.Message)) *Application {
	app := &Application{
		MessageRouter: quickfix.NewMessageRouter(),
		cfg:           cfg,
		log:           log,
		deliver:       deliver,
		dispatcher:    make(chan *inboundMsg, cfg.QueueSize),
		now:           time.Now,
		routed:        make(map[string]struct{}),
	}

	app.route(executionreport.Route(app.onExecutionReport))
	app.route(securitylist.Route(app.onSecurityList))
	app.route(marketdatasnapshotfullrefresh.Route(app.onMarketDataSnapshot))
	app.route(marketdataincrementalrefresh.Route(app.onMarketDataIncremental))
	app.route(marketdatarequestreject.Route(app.onMarketDataRequestReject))
	app.route(positionreport.Route(app.onPositionReport))
	app.route(ordercancelreject.Route(app.onOrderCancelReject))
	app.route(businessmessagereject.Route(app.onBusinessMessageReject))

	go app.runDispatcher()
	return app
}

func (a *Application) route(beginString, msgType string, r quickfix.MessageRoute) {
	a.routed[msgType] = struct{}{}
	a.AddRoute(beginString, msgType, r)
}

func (a *Application) close() {
	a.closeOnce.Do(func() { close(a.dispatcher) })
}

func (a *Application) session() (quickfix.SessionID, bool) {
	sid := a.sessionID.Load()
	if sid == nil {
		return quickfix.SessionID{}, false
	}
	return *sid, true
}

// OnCreate implemented as part of Application interface
func (a *Application) OnCreate(sessionID quickfix.SessionID) {}

// OnLogon publishes the account and the first order id, which is what the engine
// waits for before it reports connected.
func (a *Application) OnLogon(sessionID quickfix.SessionID) {
	a.sessionID.Store(&sessionID)
	a.log.Info(context.Background(), "fix logon", zap.String("session", sessionID.String()))

	nextID := a.cfg.NextOrderID
	if nextID <= 0 {
		nextID = a.now().Unix()
	}
	a.enqueue(&inboundMsg{event: model.ManagedAccounts{Accounts: a.cfg.Account}})
	a.enqueue(&inboundMsg{event: model.NextValidID{OrderID: nextID}})
}

// OnLogout reports the session as lost. The initiator keeps reconnecting on its own.
func (a *Application) OnLogout(sessionID quickfix.SessionID) {
	a.sessionID.Store(nil)
	a.log.Warn(context.Background(), "fix logout", zap.String("session", sessionID.String()))
	a.enqueue(&inboundMsg{event: model.Error{ID: -1, Code: codeConnectivityLost, Msg: "FIX session logged out"}})
}

// ToAdmin adds credentials to the outgoing logon.
func (a *Application) ToAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) {
	if msgType, err := msg.Header.GetString(tag.MsgType); err == nil && msgType == msgTypeLogon {
		setIf(&msg.Body.FieldMap, tag.Username, a.cfg.Username)
		setIf(&msg.Body.FieldMap, tag.Password, a.cfg.Password)
	}
}

// ToApp implemented as part of Application interface
func (a *Application) ToApp(msg *quickfix.Message, sessionID quickfix.SessionID) error {
	return nil
}

// FromAdmin implemented as part of Application interface
func (a *Application) FromAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return nil
}

// FromApp queues the message for the dispatcher so decoding never holds up the session.
func (a *Application) FromApp(msg *quickfix.Message, sessionID quickfix.SessionID) (reject quickfix.MessageRejectError) {
	a.enqueue(&inboundMsg{msg: msg, sessionID: sessionID})
	return nil
}

func (a *Application) enqueue(in *inboundMsg) {
	defer func() {
		// the session may still call in while the gateway shuts down
		if r := recover(); r != nil {
			a.log.Debug(context.Background(), "dropped message after close")
		}
	}()
	a.dispatcher <- in
}

func (a *Application) runDispatcher() {
	for in := range a.dispatcher {
		if in.event != nil {
			a.deliver(in.event)
			continue
		}
		a.dispatch(in.msg, in.sessionID)
	}
}

func (a *Application) dispatch(msg *quickfix.Message, sessionID quickfix.SessionID) {
	msgType, err := msg.Header.GetString(tag.MsgType)
	if err != nil {
		a.log.Error(context.Background(), "message without type", zap.Error(err))
		return
	}
	if _, ok := a.routed[msgType]; !ok {
		a.deliver(model.Unknown{Type: model.Kind(msgType)})
		return
	}
	if err := a.Route(msg, sessionID); err != nil {
		a.log.Error(context.Background(), "route error", zap.String("msg_type", msgType), zap.Error(err))
	}
}

func (a *Application) deliverAll(msgs []model.Message) {
	for _, m := range msgs {
		a.deliver(m)
	}
}

func (a *Application) onExecutionReport(msg executionreport.ExecutionReport, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	a.deliverAll(decodeExecutionReport(msg.ToMessage(), a.now()))
	return nil
}

func (a *Application) onSecurityList(msg securitylist.SecurityList, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	a.deliverAll(decodeSecurityList(msg.ToMessage()))
	return nil
}

func (a *Application) onMarketDataSnapshot(msg marketdatasnapshotfullrefresh.MarketDataSnapshotFullRefresh, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	a.deliverAll(decodeMarketDataSnapshot(msg.ToMessage(), a.now()))
	return nil
}

func (a *Application) onMarketDataIncremental(msg marketdataincrementalrefresh.MarketDataIncrementalRefresh, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	a.deliverAll(decodeMarketDataIncremental(msg.ToMessage(), a.now()))
	return nil
}

func (a *Application) onMarketDataRequestReject(msg marketdatarequestreject.MarketDataRequestReject, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	a.deliverAll(decodeMarketDataReject(msg.ToMessage()))
	return nil
}

func (a *Application) onPositionReport(msg positionreport.PositionReport, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	a.deliverAll(decodePositionReport(msg.ToMessage()))
	return nil
}

func (a *Application) onOrderCancelReject(msg ordercancelreject.OrderCancelReject, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	a.deliverAll(decodeOrderCancelReject(msg.ToMessage()))
	return nil
}

func (a *Application) onBusinessMessageReject(msg businessmessagereject.BusinessMessageReject, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	a.deliverAll(decodeBusinessReject(msg.ToMessage()))
	return nil
}
