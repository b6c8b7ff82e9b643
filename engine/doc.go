// Package engine implements the completion engine: a uniform "submit one
// native asynchronous request, park until its completion" contract over the
// operating system's asynchronous I/O facility.
//
// # Drivers
//
// Three drivers sit behind the same interface:
//
//   - Linux io_uring, driven through raw io_uring_setup/io_uring_enter
//     system calls and the shared submission and completion rings.
//   - Linux epoll, used when io_uring is unavailable (older kernels,
//     containers that filter the io_uring system calls). Completions are
//     emulated: the request is attempted non-blocking and retried when the
//     descriptor becomes ready.
//   - Windows I/O completion ports with overlapped Winsock calls, including
//     ConnectEx and AcceptEx.
//
// Other platforms get a driver that reports ErrNotSupported.
//
// # Pending operations
//
// Every submitted request occupies a slot in a slab. The slot owns the
// request's buffers and every structure the kernel holds a pointer to
// (iovec, msghdr, sockaddr storage, OVERLAPPED) until the completion has
// been observed. The kernel is handed a Token, the slot index combined
// with a generation counter, rather than the slot's address; workers
// resolve the token back to the slot and drop completions whose
// generation no longer matches.
//
// # Suspension
//
// A goroutine calling Run is the suspended operation. It blocks on the
// slot's completion channel, which a worker closes after writing the
// result. Canceling the context passed to Run cancels the native request
// and still waits for its completion before the slot is reused.
//
// # Shutdown
//
// Close cancels outstanding requests and then wakes every worker with one
// sentinel completion each. No timeouts are involved.
//
// # Example
//
//	eng, err := engine.New(engine.NewOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
//	if err := eng.Add(fd); err != nil {
//	    log.Fatal(err)
//	}
//	res, err := eng.Run(ctx, engine.Request{Op: engine.OpRecv, FD: fd, Buf: make([]byte, 1024)})
package engine
