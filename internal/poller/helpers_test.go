package poller

import logx "sebastian/pkg/logx"

func testLogger() logx.Logger { return logx.Nop() }
