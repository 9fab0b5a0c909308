package nameservers

import (
	"strconv"

	"github.com/hack-pad/hackpadfs"
	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

func readResolvConf(fs hackpadfs.FS, path string) ([]Nameserver, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, err := dns.ClientConfigFromReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		port = DefaultPort
	}

	nameservers := make([]Nameserver, 0, len(cfg.Servers))
	for _, server := range cfg.Servers {
		ip := parseIP(server)
		if ip == nil {
			continue
		}
		nameservers = append(nameservers, Nameserver{
			IP:     ip,
			Port:   port,
			Search: append([]string(nil), cfg.Search...),
			Source: ResolvConf,
		})
	}
	return nameservers, nil
}
