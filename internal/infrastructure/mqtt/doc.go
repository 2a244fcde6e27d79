// Package mqtt provides the broker connection used by the rx1 bridge to
// publish variables, feedback results and health, and to receive commands
// and requests from the automation host.
//
// The client reconnects automatically with exponential backoff, replays
// tracked subscriptions after each reconnect and registers a retained LWT
// on rx1bridge/system/status so subscribers see "offline" if the process
// dies.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllCommands("rx1"), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
