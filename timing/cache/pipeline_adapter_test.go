package cache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/x86ooo/emu"
	"github.com/sarchlab/x86ooo/timing/cache"
)

var _ = Describe("Pipeline adapters", func() {
	var (
		memory  *emu.Memory
		backing *cache.MemoryBacking
	)

	BeforeEach(func() {
		memory = emu.NewMemory()
		backing = cache.NewMemoryBacking(memory)
	})

	Describe("ICacheAdapter", func() {
		It("probes a fetch line, pulling it in on miss", func() {
			c := cache.New(cache.DefaultL1IConfig(), backing)
			adapter := cache.NewICacheAdapter(c)

			Expect(adapter.Probe(0x1000)).To(BeFalse())
			Expect(adapter.Probe(0x1000)).To(BeTrue())
		})
	})

	Describe("DCacheAdapter", func() {
		It("round-trips a store through CommitStore and a load through ProbeAndCheckSFR", func() {
			c := cache.New(cache.DefaultL1DConfig(), backing)
			adapter := cache.NewDCacheAdapter(c)

			ok := adapter.CommitStore(0x2000, []byte{0xEF, 0xBE, 0xAD, 0xDE, 0, 0, 0, 0}, 0x0F)
			Expect(ok).To(BeTrue())

			hit, data := adapter.ProbeAndCheckSFR(0x2000, 4)
			Expect(hit).To(BeTrue())
			Expect(data).To(Equal([]byte{0xEF, 0xBE, 0xAD, 0xDE}))
		})
	})
})
