// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/livekit/protocol/logger"
)

const (
	generatedCLIFlagUsage = "generated"

	ICETransportPolicyAll   = "all"
	ICETransportPolicyRelay = "relay"

	DefaultBufferedAmountInterval = time.Second
	DefaultMaxConcurrentRequests  = 16
	DefaultClosedHandlerCacheSize = 1024
)

var (
	ErrInvalidPortRange          = errors.New("ICE port range start must not exceed range end")
	ErrInvalidICETransportPolicy = errors.New("ice_transport_policy must be one of all, relay")

	DefaultStunServers = []string{
		"global.stun.twilio.com:3478",
		"stun.l.google.com:19302",
	}
)

type Config struct {
	Port           uint32        `yaml:"port,omitempty"`
	BindAddresses  []string      `yaml:"bind_addresses,omitempty"`
	PrometheusPort uint32        `yaml:"prometheus_port,omitempty"`
	RTC            RTCConfig     `yaml:"rtc,omitempty"`
	Handler        HandlerConfig `yaml:"handler,omitempty"`
	Worker         WorkerConfig  `yaml:"worker,omitempty"`
	Logging        LoggingConfig `yaml:"logging,omitempty"`

	Development bool `yaml:"development,omitempty"`
}

type RTCConfig struct {
	ICEServers []ICEServer `yaml:"ice_servers,omitempty"`

	// all or relay
	ICETransportPolicy string `yaml:"ice_transport_policy,omitempty"`

	ICEPortRangeStart uint16 `yaml:"port_range_start,omitempty"`
	ICEPortRangeEnd   uint16 `yaml:"port_range_end,omitempty"`

	// advertised as the host candidate address when set
	NodeIP        string   `yaml:"node_ip,omitempty"`
	UseExternalIP bool     `yaml:"use_external_ip,omitempty"`
	STUNServers   []string `yaml:"stun_servers,omitempty"`

	// gather mDNS host candidates instead of exposing local addresses
	UseMDNS bool `yaml:"use_mdns,omitempty"`

	// restrict ICE to IPv4
	IPv4Only bool `yaml:"ipv4_only,omitempty"`
}

type ICEServer struct {
	URLs       []string `yaml:"urls,omitempty"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type HandlerConfig struct {
	// interval between bufferedamount reports for every open data channel
	BufferedAmountInterval time.Duration `yaml:"buffered_amount_interval,omitempty"`
}

type WorkerConfig struct {
	// requests handled in parallel per connection
	MaxConcurrentRequests int `yaml:"max_concurrent_requests,omitempty"`
	// ids of closed handlers remembered so late messages are dropped quietly
	ClosedHandlerCacheSize int `yaml:"closed_handler_cache_size,omitempty"`
	// orchestrators announcing an older protocol version are refused
	MinClientVersion string `yaml:"min_client_version,omitempty"`
}

type LoggingConfig struct {
	logger.Config `yaml:",inline"`
	PionLevel     string `yaml:"pion_level,omitempty"`
}

var DefaultConfig = Config{
	Port: 7890,
	RTC: RTCConfig{
		ICETransportPolicy: ICETransportPolicyAll,
		STUNServers:        []string{},
	},
	Handler: HandlerConfig{
		BufferedAmountInterval: DefaultBufferedAmountInterval,
	},
	Worker: WorkerConfig{
		MaxConcurrentRequests:  DefaultMaxConcurrentRequests,
		ClosedHandlerCacheSize: DefaultClosedHandlerCacheSize,
	},
	Logging: LoggingConfig{
		PionLevel: "error",
	},
}

func NewConfig(confString string, strictMode bool, c *cli.Context, baseFlags []cli.Flag) (*Config, error) {
	// start with defaults
	marshalled, err := yaml.Marshal(&DefaultConfig)
	if err != nil {
		return nil, err
	}

	var conf Config
	err = yaml.Unmarshal(marshalled, &conf)
	if err != nil {
		return nil, err
	}

	if confString != "" {
		decoder := yaml.NewDecoder(strings.NewReader(confString))
		decoder.KnownFields(strictMode)
		if err := decoder.Decode(&conf); err != nil {
			return nil, fmt.Errorf("could not parse config: %v", err)
		}
	}

	if c != nil {
		if err := conf.updateFromCLI(c, baseFlags); err != nil {
			return nil, err
		}
	}

	if err := conf.RTC.Validate(); err != nil {
		return nil, fmt.Errorf("could not validate RTC config: %v", err)
	}

	if conf.Handler.BufferedAmountInterval <= 0 {
		conf.Handler.BufferedAmountInterval = DefaultBufferedAmountInterval
	}

	if conf.Worker.MaxConcurrentRequests <= 0 {
		conf.Worker.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if conf.Worker.ClosedHandlerCacheSize <= 0 {
		conf.Worker.ClosedHandlerCacheSize = DefaultClosedHandlerCacheSize
	}

	if conf.Logging.Level == "" && conf.Development {
		conf.Logging.Level = "debug"
	}
	if conf.Logging.PionLevel != "" {
		if conf.Logging.ComponentLevels == nil {
			conf.Logging.ComponentLevels = map[string]string{}
		}
		conf.Logging.ComponentLevels["pion"] = conf.Logging.PionLevel
	}

	return &conf, nil
}

func (r *RTCConfig) Validate() error {
	if r.ICEPortRangeStart > r.ICEPortRangeEnd {
		return ErrInvalidPortRange
	}
	switch r.ICETransportPolicy {
	case "", ICETransportPolicyAll, ICETransportPolicyRelay:
	default:
		return ErrInvalidICETransportPolicy
	}
	return nil
}

type configNode struct {
	TypeNode  reflect.Value
	TagPrefix string
}

func (conf *Config) ToCLIFlagNames(existingFlags []cli.Flag) map[string]reflect.Value {
	existingFlagNames := map[string]bool{}
	for _, flag := range existingFlags {
		for _, flagName := range flag.Names() {
			existingFlagNames[flagName] = true
		}
	}

	flagNames := map[string]reflect.Value{}
	var currNode configNode
	nodes := []configNode{{reflect.ValueOf(conf).Elem(), ""}}
	for len(nodes) > 0 {
		currNode, nodes = nodes[0], nodes[1:]
		for i := 0; i < currNode.TypeNode.NumField(); i++ {
			// inspect yaml tag from struct field to get path
			field := currNode.TypeNode.Type().Field(i)
			yamlTagArray := strings.SplitN(field.Tag.Get("yaml"), ",", 2)
			yamlTag := yamlTagArray[0]
			isInline := false
			if len(yamlTagArray) > 1 && yamlTagArray[1] == "inline" {
				isInline = true
			}
			if (yamlTag == "" && (!isInline || currNode.TagPrefix == "")) || yamlTag == "-" {
				continue
			}
			yamlPath := yamlTag
			if currNode.TagPrefix != "" {
				if isInline {
					yamlPath = currNode.TagPrefix
				} else {
					yamlPath = fmt.Sprintf("%s.%s", currNode.TagPrefix, yamlTag)
				}
			}
			if existingFlagNames[yamlPath] {
				continue
			}

			// map flag name to value
			value := currNode.TypeNode.Field(i)
			if value.Kind() == reflect.Struct {
				nodes = append(nodes, configNode{value, yamlPath})
			} else {
				flagNames[yamlPath] = value
			}
		}
	}

	return flagNames
}

func GenerateCLIFlags(existingFlags []cli.Flag, hidden bool) ([]cli.Flag, error) {
	blankConfig := &Config{}
	flags := make([]cli.Flag, 0)
	for name, value := range blankConfig.ToCLIFlagNames(existingFlags) {
		kind := value.Kind()
		if kind == reflect.Ptr {
			kind = value.Type().Elem().Kind()
		}

		var flag cli.Flag
		envVar := fmt.Sprintf("HANDLER_WORKER_%s", strings.ToUpper(strings.Replace(name, ".", "_", -1)))

		switch kind {
		case reflect.Bool:
			flag = &cli.BoolFlag{
				Name:   name,
				Usage:  generatedCLIFlagUsage,
				Hidden: hidden,
			}
		case reflect.String:
			flag = &cli.StringFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Int, reflect.Int32:
			flag = &cli.IntFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Int64:
			if value.Type() == reflect.TypeOf(time.Duration(0)) {
				flag = &cli.DurationFlag{
					Name:    name,
					EnvVars: []string{envVar},
					Usage:   generatedCLIFlagUsage,
					Hidden:  hidden,
				}
				break
			}
			flag = &cli.Int64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Uint8, reflect.Uint16, reflect.Uint32:
			flag = &cli.UintFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Uint64:
			flag = &cli.Uint64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Float32, reflect.Float64:
			flag = &cli.Float64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Slice, reflect.Map:
			// configured through YAML only
			continue
		default:
			return flags, fmt.Errorf("cli flag generation unsupported for config type: %s is a %s", name, kind.String())
		}

		flags = append(flags, flag)
	}

	return flags, nil
}

func (conf *Config) updateFromCLI(c *cli.Context, baseFlags []cli.Flag) error {
	generatedFlagNames := conf.ToCLIFlagNames(baseFlags)
	for _, flag := range c.App.Flags {
		flagName := flag.Names()[0]

		// the `c.App.Name != "test"` check is needed because `c.IsSet(...)` is always false in unit tests
		if !c.IsSet(flagName) && c.App.Name != "test" {
			continue
		}

		configValue, ok := generatedFlagNames[flagName]
		if !ok {
			continue
		}

		kind := configValue.Kind()
		if kind == reflect.Ptr {
			// instantiate value to be set
			configValue.Set(reflect.New(configValue.Type().Elem()))

			kind = configValue.Type().Elem().Kind()
			configValue = configValue.Elem()
		}

		switch kind {
		case reflect.Bool:
			configValue.SetBool(c.Bool(flagName))
		case reflect.String:
			configValue.SetString(c.String(flagName))
		case reflect.Int64:
			if configValue.Type() == reflect.TypeOf(time.Duration(0)) {
				configValue.SetInt(int64(c.Duration(flagName)))
				continue
			}
			configValue.SetInt(c.Int64(flagName))
		case reflect.Int, reflect.Int32:
			configValue.SetInt(c.Int64(flagName))
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			configValue.SetUint(c.Uint64(flagName))
		case reflect.Float32, reflect.Float64:
			configValue.SetFloat(c.Float64(flagName))
		default:
			return fmt.Errorf("unsupported generated cli flag type for config: %s is a %s", flagName, kind.String())
		}
	}

	if c.IsSet("dev") {
		conf.Development = c.Bool("dev")
	}
	if c.IsSet("node-ip") {
		conf.RTC.NodeIP = c.String("node-ip")
	}
	if c.IsSet("bind") {
		conf.BindAddresses = c.StringSlice("bind")
	}
	return nil
}

// GetConfigString returns the inline config body when set, the contents of configFile otherwise.
func GetConfigString(configFile string, inConfigBody string) (string, error) {
	if inConfigBody != "" || configFile == "" {
		return inConfigBody, nil
	}

	path, err := homedir.Expand(os.ExpandEnv(configFile))
	if err != nil {
		return "", err
	}

	outConfigBody, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	return string(outConfigBody), nil
}

func InitLoggerFromConfig(config *LoggingConfig) {
	logger.InitFromConfig(&config.Config, "handler-worker")
}
