package consul

import (
	"fmt"
	"time"

	"github.com/webitel/wlog"
)

var (
	defaultReconnectAttempts = 10
	reconnectDuration        = 5 * time.Second
	serviceTTL               = 10 * time.Second
	deregisterTTL            = 2 * serviceTTL
)

var newConsul = NewConsul

// Cluster registers this instance for discovery. The TTL check reflects
// the given health function, so an instance that lost its store drops out.
type Cluster struct {
	consulAddr string
	name       string
	discovery  *Consul
	log        *wlog.Logger
}

func NewCluster(name, consulAddr string, log *wlog.Logger) *Cluster {
	return &Cluster{
		name:       name,
		consulAddr: consulAddr,
		log:        log.With(wlog.String("scope", "consul")),
	}
}

func (c *Cluster) Start(serviceInstanceID, host string, port int, check CheckFunction) error {
	if check == nil {
		check = func() error { return nil }
	}

	consulClient, err := newConsul(serviceInstanceID, c.consulAddr, c.log, check)
	if err != nil {
		return err
	}

	c.discovery = consulClient

	serviceConfig := Config{
		Name:            c.name,
		Address:         host,
		Port:            port,
		TTL:             serviceTTL,
		CriticalTTL:     deregisterTTL,
		ConsulAgentAddr: c.consulAddr,
	}

	if err = c.attemptConsulRegistration(serviceConfig); err != nil {
		return fmt.Errorf("failed to register service in Consul after multiple attempts: %w", err)
	}

	return nil
}

func (c *Cluster) Stop() {
	if c.discovery != nil {
		c.discovery.Shutdown()
	}
}

func (c *Cluster) Ready() bool {
	return c.discovery != nil && c.discovery.IsReady()
}

func (c *Cluster) attemptConsulRegistration(config Config) error {
	for i := range defaultReconnectAttempts {
		err := c.discovery.RegisterService(config)
		if err == nil {
			return nil
		}

		c.log.Error(err.Error(), wlog.Err(err), wlog.Int("attempt", i+1),
			wlog.Int("max_attempts", defaultReconnectAttempts), wlog.Duration("retry_in", reconnectDuration))

		time.Sleep(reconnectDuration)
	}

	return fmt.Errorf("exceeded maximum reconnect attempts (%d) for Consul registration", defaultReconnectAttempts)
}
