// Package client subscribes to the config service. It is what a data-plane
// component, or the courier watch command, uses to receive snapshots.
//
//	c, err := client.NewClient("localhost:9090")
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	err = c.Watch(ctx, map[string]string{"role": "broker"}, nil, func(s *client.Snapshot) error {
//		fmt.Println(s.Sequence, len(s.Items))
//		return nil
//	})
package client
