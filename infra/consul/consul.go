package consul

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"
	"go.uber.org/atomic"

	"github.com/webitel/wlog"
)

const healthyNote = "Service is healthy."

// CheckFunction returns nil while the service can take work.
type CheckFunction func() error

type Consul struct {
	id                string
	agent             Agent
	stop              chan struct{}
	stopOnce          sync.Once
	updater           sync.Once
	check             CheckFunction
	checkID           string
	ready             atomic.Bool
	config            *Config
	log               *wlog.Logger
	serviceInstanceID string
}

type Config struct {
	Name            string
	Address         string
	Port            int
	TTL             time.Duration
	CriticalTTL     time.Duration
	Tags            []string
	ConsulAgentAddr string
}

// NewConsul creates an agent client for one service instance. check drives
// the TTL status reported to the agent.
func NewConsul(id, consulAgentAddr string, log *wlog.Logger, check CheckFunction) (*Consul, error) {
	if check == nil {
		return nil, errors.New("check function cannot be nil")
	}

	conf := api.DefaultConfig()
	conf.Address = consulAgentAddr

	cli, err := api.NewClient(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create Consul client: %w", err)
	}

	return &Consul{
		id:      id,
		log:     log,
		agent:   cli.Agent(),
		stop:    make(chan struct{}),
		check:   check,
		checkID: "service:" + id,
	}, nil
}

// RegisterService registers the instance with a TTL check and keeps the
// check fed until Shutdown.
func (c *Consul) RegisterService(config Config) error {
	c.config = &config
	c.serviceInstanceID = fmt.Sprintf("%s-%s", config.Name, c.id)

	reg := &api.AgentServiceRegistration{
		ID:      c.serviceInstanceID,
		Name:    config.Name,
		Tags:    config.Tags,
		Address: config.Address,
		Port:    config.Port,
		Check: &api.AgentServiceCheck{
			DeregisterCriticalServiceAfter: config.CriticalTTL.String(),
			TTL:                            config.TTL.String(),
			CheckID:                        c.checkID,
		},
	}

	if err := c.agent.ServiceRegister(reg); err != nil {
		return fmt.Errorf("failed to register service %s in Consul: %w", reg.Name, err)
	}

	c.log.Info("service registered", wlog.String("name", reg.Name), wlog.String("service_id", reg.ID),
		wlog.String("address", fmt.Sprintf("%s:%d", reg.Address, reg.Port)))

	c.updater.Do(func() {
		go c.startTTLUpdater(config.TTL / 2)
	})

	c.updateTTLStatus()

	return nil
}

func (c *Consul) startTTLUpdater(interval time.Duration) {
	if interval <= 0 {
		c.log.Error("invalid TTL interval, updater not started", wlog.String("service_id", c.serviceInstanceID),
			wlog.Duration("interval", interval))

		return
	}

	defer c.log.Debug("TTL updater stopped", wlog.String("service_id", c.serviceInstanceID))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.updateTTLStatus()
		}
	}
}

func (c *Consul) updateTTLStatus() {
	if err := c.check(); err != nil {
		if agentErr := c.agent.FailTTL(c.checkID, err.Error()); agentErr != nil {
			c.handleTTLUpdateError(agentErr)
		}

		if c.ready.Swap(false) {
			c.log.Warn("service unhealthy", wlog.Err(err))
		}

		return
	}

	if agentErr := c.agent.PassTTL(c.checkID, healthyNote); agentErr != nil {
		c.handleTTLUpdateError(agentErr)

		return
	}

	c.ready.Store(true)
}

// handleTTLUpdateError re-registers when the agent lost the service, which
// it reports as an internal server error.
func (c *Consul) handleTTLUpdateError(err error) {
	var apiErr api.StatusError
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusInternalServerError {
		c.log.Error(err.Error(), wlog.Err(err), wlog.String("service_id", c.serviceInstanceID))

		return
	}

	c.log.Error("consul lost the service, re-registering", wlog.Err(err), wlog.String("service_id", c.serviceInstanceID))

	if c.config == nil {
		c.log.Error("no registration config, cannot re-register", wlog.String("id", c.id))

		return
	}

	if regErr := c.RegisterService(*c.config); regErr != nil {
		c.log.Error(regErr.Error(), wlog.Err(regErr), wlog.String("id", c.id))
	}
}

func (c *Consul) IsReady() bool {
	return c.ready.Load()
}

func (c *Consul) Shutdown() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})

	if err := c.agent.ServiceDeregister(c.serviceInstanceID); err != nil {
		c.log.Error(err.Error(), wlog.Err(err), wlog.String("service_id", c.serviceInstanceID))

		return
	}

	c.log.Info("service deregistered", wlog.String("service_id", c.serviceInstanceID))
}
