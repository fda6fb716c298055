// Package service ties the tally relay together.
//
// TallyService owns the switcher state store, the link supervisor that
// keeps the switcher driver connected, the subscription registry, the TCP
// distribution server and the optional mDNS advertisement:
//
//	mem := switcher.NewMemory()
//	driver, _ := switcher.NewSimulator(mem, switcher.SimulatorConfig{})
//
//	config := service.DefaultConfig()
//	config.SwitcherAddress = "127.0.0.1"
//
//	svc, err := service.NewTallyService(mem, driver, config)
//	svc.Start(ctx)
//	defer svc.Stop()
//
// The distribution server starts listening after the first successful
// switcher connection unless ListenEarly is set. Subscriptions survive
// link loss; lamps keep their last state until the switcher is back.
package service
