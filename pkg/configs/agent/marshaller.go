package agent

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// load agent config from a file.
//
// args:
//   - filepath: filepath refers a config file.
//
// returns *AgentConfig, error:
//
//	When loading success, returns `(*AgentConfig, nil)`.
//	Otherwise, returns `(nil, error)`.
func LoadAgentConfig(filepath string) (*AgentConfig, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}

	var marshall *AgentConfigMarshall
	if err := yaml.Unmarshal(content, &marshall); err != nil {
		return nil, err
	}

	if marshall.Identity != nil && marshall.Identity.Token == "" && marshall.Identity.TokenFile != "" {
		token, err := os.ReadFile(marshall.Identity.TokenFile)
		if err != nil {
			return nil, err
		}
		marshall.Identity.resolvedToken = strings.TrimSpace(string(token))
	}

	return TrySeal(marshall), nil
}

func Unmarshal(conf []byte) (out *AgentConfig, err error) {
	var _out *AgentConfigMarshall
	err = yaml.Unmarshal(conf, &_out)
	if err != nil {
		return nil, err
	}
	out = TrySeal(_out)
	return out, nil
}
