package drbd

import (
	"bytes"
	"text/template"

	"github.com/mcvirt/mcvirt/internal/config"
)

// globalConfigTemplateSource renders /etc/drbd.d/global_common.conf, the
// direct Go equivalent of node/drbd.py's Cheetah-templated
// GLOBAL_CONFIG_TEMPLATE: common handlers/startup/options plus the
// cluster-wide secret, sync rate, and protocol.
const globalConfigTemplateSource = `global {
    usage-count no;
}

common {
    protocol {{.Protocol}};

    net {
        cram-hmac-alg sha1;
        shared-secret "{{.Secret}}";
    }

    disk {
        resync-rate {{.SyncRate}};
    }
}
`

var globalConfigTemplate = template.Must(template.New("global").Parse(globalConfigTemplateSource))

// RenderGlobalConfig renders global_common.conf from cfg.
func RenderGlobalConfig(cfg config.DRBDGlobalConfig) (string, error) {
	var buf bytes.Buffer
	if err := globalConfigTemplate.Execute(&buf, cfg); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ResourceConfig is the data a resource's .res file is rendered from:
// one DRBD resource replicated between exactly two nodes.
type ResourceConfig struct {
	ResourceName string
	Minor        int
	Port         int
	Nodes        []ResourceNode
}

// ResourceNode is one peer's view of a resource: its hostname, the IP
// address DRBD should connect on, and the LVM-backed device path
// underneath it (from internal/storage/lvm.DiskPath).
type ResourceNode struct {
	Hostname  string
	IPAddress string
	DevicePath string
}

const resourceConfigTemplateSource = `resource {{.ResourceName}} {
    on {{range .Nodes}}{{.Hostname}} {
        device minor {{$.Minor}};
        disk {{.DevicePath}};
        address {{.IPAddress}}:{{$.Port}};
        meta-disk internal;
    }
    {{end}}
}
`

var resourceConfigTemplate = template.Must(template.New("resource").Parse(resourceConfigTemplateSource))

func renderResourceConfig(rc ResourceConfig) (string, error) {
	var buf bytes.Buffer
	if err := resourceConfigTemplate.Execute(&buf, rc); err != nil {
		return "", err
	}
	return buf.String(), nil
}
