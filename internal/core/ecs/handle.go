package ecs

// Handle encodes a 32-bit slot index in the lower bits and a 32-bit generation
// in the upper bits. Destroying a slot bumps its generation so every handle
// still pointing at it stops resolving.
type Handle uint64

func NewHandle(index uint32, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

func (h Handle) Index() uint32      { return uint32(h) }
func (h Handle) Generation() uint32 { return uint32(h >> 32) }

// Pool allocates handles with generational indices and a free list.
// Generations start at 1 so the zero Handle never resolves.
type Pool struct {
	generations []uint32
	freeList    []uint32
	live        int
}

func NewPool() *Pool {
	return &Pool{
		generations: make([]uint32, 0, 256),
		freeList:    make([]uint32, 0, 64),
	}
}

func (p *Pool) Create() Handle {
	p.live++
	if n := len(p.freeList); n > 0 {
		idx := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		return NewHandle(idx, p.generations[idx])
	}
	idx := uint32(len(p.generations))
	p.generations = append(p.generations, 1)
	return NewHandle(idx, 1)
}

func (p *Pool) Alive(h Handle) bool {
	idx := h.Index()
	if int(idx) >= len(p.generations) {
		return false
	}
	return p.generations[idx] == h.Generation()
}

// Destroy releases the slot. Stale handles are ignored.
func (p *Pool) Destroy(h Handle) bool {
	if !p.Alive(h) {
		return false
	}
	idx := h.Index()
	p.generations[idx]++
	if p.generations[idx] == 0 {
		p.generations[idx] = 1
	}
	p.freeList = append(p.freeList, idx)
	p.live--
	return true
}

// Len returns the number of live handles.
func (p *Pool) Len() int { return p.live }
