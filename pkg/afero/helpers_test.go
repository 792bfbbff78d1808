package afero

import "github.com/sgl-project/sft-agent/pkg/logging"

func nopLogger() logging.Interface { return logging.Discard() }
